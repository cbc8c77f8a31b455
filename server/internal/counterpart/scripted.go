package counterpart

import (
	"context"

	"care-talk/server/internal/model"
)

// ClosingInsights 脚本对话自然结束时的总结
const ClosingInsights = "Das Gespräch ist zu einem natürlichen Ende gekommen. Sie haben Ihr Gegenüber gut begleitet."

var scriptedLines = map[model.Category][]string{
	model.CategoryPatientCare: {
		"Ach, gut dass Sie kommen. Mir geht es heute nicht so gut.",
		"Es tut vor allem hier an der Hüfte weh.",
		"Ich würde sagen, so eine Sieben. Nachts war es noch schlimmer.",
		"Danke, dass Sie sich darum kümmern.",
	},
	model.CategoryEmergency: {
		"Oh... ich weiß gar nicht, was passiert ist.",
		"Ich wollte nur kurz aufstehen und dann lag ich da.",
		"Mein Kopf tut ein bisschen weh.",
		"Ja, bitte holen Sie jemanden.",
	},
	model.CategoryHandover: {
		"Okay, ich höre. Um wen geht es?",
		"Alles klar. Was ist der Hintergrund?",
		"Welche Medikamente bekommt sie gerade?",
		"Gab es heute irgendwelche Vorkommnisse?",
		"Danke, ich habe alles notiert.",
	},
	model.CategoryElderlyCare: {
		"Guten Morgen... ist es schon Zeit zum Aufstehen?",
		"Was machen wir denn jetzt?",
		"Na gut, wenn Sie meinen.",
		"Das kann ich schon noch selbst, glaube ich.",
	},
	model.CategoryDisabilityCare: {
		"Entschuldigung, können Sie das noch einmal sagen?",
		"Ah, jetzt verstehe ich Sie besser.",
		"Wann genau ist der Termin?",
		"Gut, ich habe es mir aufgeschrieben.",
	},
	model.CategoryTeamwork: {
		"Ehrlich gesagt bin ich ziemlich sauer wegen des Dienstplans.",
		"Ich arbeite jetzt schon das dritte Wochenende in Folge.",
		"Danke, dass Sie mir zuhören.",
		"Okay, das klingt nach einem Plan.",
	},
}

var closingLines = map[model.Speaker]string{
	model.SpeakerPatient:   "Vielen Dank, jetzt fühle ich mich viel besser.",
	model.SpeakerColleague: "Super, danke dir. Dann bis morgen!",
	model.SpeakerDoctor:    "Gut, danke für die Information.",
}

// ScriptedGenerator 离线回复生成器：按类别循环预置台词，检查点全部完成后结束对话。
// 无状态，进度由转写中对方的轮次数推导。
type ScriptedGenerator struct{}

func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{}
}

func (g *ScriptedGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	role := req.Profile.Role
	if role == "" {
		role = req.Scenario.Counterpart
	}

	if req.Checkpoint == nil {
		closing, ok := closingLines[role]
		if !ok {
			closing = closingLines[model.SpeakerPatient]
		}
		return Reply{
			Text:                 closing,
			Tone:                 TonePositive,
			ConversationComplete: true,
			Insights:             ClosingInsights,
		}, nil
	}

	lines, ok := scriptedLines[req.Scenario.Category]
	if !ok {
		lines = scriptedLines[model.CategoryPatientCare]
	}
	said := 0
	for _, t := range req.Transcript {
		if t.Speaker.IsCounterpart() {
			said++
		}
	}
	return Reply{
		Text: lines[said%len(lines)],
		Tone: ToneNeutral,
	}, nil
}
