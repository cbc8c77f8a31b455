package profile

import (
	"hash/fnv"

	"care-talk/server/internal/model"
)

// Provider 为会话创建对话对象的人设。
type Provider interface {
	CreateProfile(category model.Category, scenario model.Scenario) model.CounterpartProfile
}

type persona struct {
	name   string
	gender string
	avatar string
}

type pool struct {
	minAge      int
	ageSpan     int
	conditions  []string
	moods       []string
	backgrounds []string
}

var patientPersonas = []persona{
	{"Frau Schneider", "female", "👵"},
	{"Herr Becker", "male", "👴"},
	{"Frau Müller", "female", "👩"},
	{"Herr Yılmaz", "male", "👨"},
	{"Frau Kowalski", "female", "👩‍🦳"},
	{"Herr Wagner", "male", "👨‍🦳"},
}

var colleaguePersonas = []persona{
	{"Kollegin Sarah", "female", "👩‍⚕️"},
	{"Kollege Jonas", "male", "👨‍⚕️"},
	{"Kollegin Aylin", "female", "👩‍⚕️"},
	{"Kollege Markus", "male", "👨‍⚕️"},
}

var doctorPersonas = []persona{
	{"Dr. Hoffmann", "female", "👩‍⚕️"},
	{"Dr. Richter", "male", "👨‍⚕️"},
}

var pools = map[model.Category]pool{
	model.CategoryPatientCare: {
		minAge: 45, ageSpan: 40,
		conditions:  []string{"Zustand nach Hüft-OP", "Pneumonie", "Diabetes mellitus Typ 2", "Herzinsuffizienz"},
		moods:       []string{"besorgt", "erschöpft", "ungeduldig", "freundlich"},
		backgrounds: []string{"lebt allein und bekommt selten Besuch", "ist pensionierte Lehrerin", "hat große Angst vor Krankenhäusern"},
	},
	model.CategoryEmergency: {
		minAge: 60, ageSpan: 30,
		conditions:  []string{"Sturz neben dem Bett", "akute Atemnot", "Schwindel und Übelkeit"},
		moods:       []string{"verwirrt", "ängstlich", "aufgeregt"},
		backgrounds: []string{"wollte nachts allein zur Toilette", "nimmt Blutverdünner", "hat eine bekannte Osteoporose"},
	},
	model.CategoryElderlyCare: {
		minAge: 75, ageSpan: 20,
		conditions:  []string{"leichte Demenz", "Arthrose in beiden Knien", "Sehschwäche"},
		moods:       []string{"verschlafen", "misstrauisch", "gut gelaunt"},
		backgrounds: []string{"war früher Schreiner", "vermisst seine verstorbene Frau", "liebt Volksmusik"},
	},
	model.CategoryDisabilityCare: {
		minAge: 25, ageSpan: 40,
		conditions:  []string{"Hörbeeinträchtigung", "Lernschwierigkeiten", "Querschnittslähmung"},
		moods:       []string{"selbstbewusst", "zurückhaltend", "neugierig"},
		backgrounds: []string{"arbeitet in einer Werkstatt", "lebt in einer Wohngruppe", "ist sehr selbstständig"},
	},
	model.CategoryHandover: {
		minAge: 24, ageSpan: 35,
		moods:       []string{"konzentriert", "in Eile", "müde nach dem Frühdienst"},
		backgrounds: []string{"übernimmt den Spätdienst", "ist neu auf der Station", "ist Praxisanleiterin"},
	},
	model.CategoryTeamwork: {
		minAge: 24, ageSpan: 35,
		moods:       []string{"verärgert", "frustriert", "gestresst"},
		backgrounds: []string{"hat zwei kleine Kinder", "arbeitet seit zehn Jahren auf der Station", "macht nebenbei eine Weiterbildung"},
	},
}

var voices = map[string]string{
	"female": "nova",
	"male":   "onyx",
}

// Deterministic 用场景 ID 的哈希从类别池中挑选人设，同一场景总是得到同一个人设。
type Deterministic struct{}

func NewDeterministic() *Deterministic {
	return &Deterministic{}
}

func (d *Deterministic) CreateProfile(category model.Category, scenario model.Scenario) model.CounterpartProfile {
	role := scenario.Counterpart
	if !role.IsCounterpart() {
		role = defaultRole(category)
	}

	p, ok := pools[category]
	if !ok {
		p = pools[model.CategoryPatientCare]
	}
	var personas []persona
	switch role {
	case model.SpeakerDoctor:
		personas = doctorPersonas
	case model.SpeakerColleague:
		personas = colleaguePersonas
	case model.SpeakerPatient:
		personas = patientPersonas
	}

	h := seed(scenario.ID)
	who := personas[h%uint64(len(personas))]
	out := model.CounterpartProfile{
		Name:       who.name,
		Gender:     who.gender,
		Avatar:     who.avatar,
		Role:       role,
		Age:        p.minAge + int((h>>8)%uint64(p.ageSpan)),
		Mood:       pick(p.moods, h>>16),
		Background: pick(p.backgrounds, h>>24),
		Voice:      voices[who.gender],
	}
	if role == model.SpeakerPatient {
		out.Condition = pick(p.conditions, h>>32)
	}
	return out
}

func defaultRole(category model.Category) model.Speaker {
	switch category {
	case model.CategoryHandover, model.CategoryTeamwork:
		return model.SpeakerColleague
	default:
		return model.SpeakerPatient
	}
}

func seed(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func pick(options []string, h uint64) string {
	if len(options) == 0 {
		return ""
	}
	return options[h%uint64(len(options))]
}
