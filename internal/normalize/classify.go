package normalize

import (
	"strings"

	"itevents/internal/model"
)

type typeRule struct {
	typ      model.EventType
	triggers []string
}

// typeRules are checked in order; the first match wins.
var typeRules = []typeRule{
	{model.TypeConference, []string{"конференц", "conference", "conf "}},
	{model.TypeMeetup, []string{"meetup", "митап", "meet-up"}},
	{model.TypeHackathon, []string{"hackathon", "хакатон"}},
	{model.TypeSeminar, []string{"семинар", "seminar", "webinar", "вебинар"}},
	{model.TypeWorkshop, []string{"workshop", "воркшоп", "практикум"}},
	{model.TypeLecture, []string{"лекци", "lecture", "talk"}},
	{model.TypeForum, []string{"форум", "forum", "summit", "саммит"}},
	{model.TypeRoundtable, []string{"круглый стол", "roundtable", "round table"}},
	{model.TypeStrategicSession, []string{"стратегическ", "strategic session"}},
	{model.TypeNetworking, []string{"нетворкинг", "networking"}},
	{model.TypeExhibition, []string{"выставк", "exhibition", "expo"}},
	{model.TypeDemoDay, []string{"demo day", "demoday", "демо-день", "демодень"}},
	{model.TypePitch, []string{"питч", "pitch"}},
	{model.TypeMasterclass, []string{"мастер-класс", "мастер класс", "masterclass", "master class"}},
	{model.TypeEducational, []string{"курс", "обучени", "course", "education", "школа", "bootcamp"}},
}

// ClassifyType maps free text (a title or a raw type label) to an event type.
func ClassifyType(text string) model.EventType {
	s := strings.ToLower(text) + " "
	for _, r := range typeRules {
		for _, trig := range r.triggers {
			if strings.Contains(s, trig) {
				return r.typ
			}
		}
	}
	return model.TypeGeneric
}

type themeRule struct {
	theme    model.Theme
	triggers []string
}

var themeRules = []themeRule{
	{model.ThemeAI, []string{"ai", "искусств", "нейрос", "machine learning", "ml"}},
	{model.ThemeDataScience, []string{"data science", "аналитик", "big data"}},
	{model.ThemeDev, []string{"разработк", "programming", "coding", "software"}},
	{model.ThemeWeb, []string{"web", "веб", "frontend", "backend", "fullstack"}},
	{model.ThemeMobile, []string{"mobile", "мобильн", "ios", "android"}},
	{model.ThemeSecurity, []string{"безопасност", "security", "cyber"}},
	{model.ThemeCloud, []string{"cloud", "облачн"}},
	{model.ThemeDevOps, []string{"devops", "ci/cd"}},
	{model.ThemeBlockchain, []string{"blockchain", "блокчейн", "crypto"}},
	{model.ThemeStartup, []string{"startup", "стартап", "venture"}},
}

// ClassifyThemes returns every theme whose trigger occurs in text, in
// vocabulary order. It returns nil when nothing matches.
func ClassifyThemes(text string) []model.Theme {
	s := strings.ToLower(text)
	var out []model.Theme
	for _, r := range themeRules {
		for _, trig := range r.triggers {
			if strings.Contains(s, trig) {
				out = append(out, r.theme)
				break
			}
		}
	}
	return out
}

// resolveThemes maps raw theme labels onto the vocabulary. Labels that are
// already tags are kept as-is; the rest go through the classifier.
func resolveThemes(raw []string) []model.Theme {
	seen := make(map[model.Theme]bool)
	for _, label := range raw {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if t := model.Theme(label); t.Valid() {
			seen[t] = true
			continue
		}
		for _, t := range ClassifyThemes(label) {
			seen[t] = true
		}
	}
	return orderedThemes(seen)
}

func orderedThemes(set map[model.Theme]bool) []model.Theme {
	var out []model.Theme
	for _, t := range model.Themes {
		if set[t] {
			out = append(out, t)
		}
	}
	return out
}

var (
	spbTriggers    = []string{"спб", "санкт-петербург", "санкт петербург", "петербург", "питер", "spb", "st. petersburg", "st petersburg", "saint petersburg", "saint-petersburg"}
	onlineTriggers = []string{"онлайн", "online", "zoom", "remote", "дистанц", "трансляци", "stream"}
	moscowTriggers = []string{"москв", "moscow", "мск", "msk"}
)

// ClassifyLocation derives the locality token from free text. The online flag
// is reported separately so hybrid events keep both facts.
func ClassifyLocation(location string) (model.Locality, bool) {
	s := strings.ToLower(location)
	online := containsAny(s, onlineTriggers)
	switch {
	case containsAny(s, spbTriggers):
		return model.LocalitySPb, online
	case containsAny(s, moscowTriggers):
		return model.LocalityMoscow, online
	case online:
		return model.LocalityOnline, true
	default:
		return model.LocalityOther, false
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
