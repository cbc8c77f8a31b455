package orchestrator

import (
	"time"

	"care-talk/server/internal/model"
)

// Reduce 只做“事实归约”，不触发外部调用。
// 检查点与提示状态由编排器根据评估结果直接写入，这里只处理轮次、标记与重开。
func Reduce(state *model.SessionState, evt model.Event, now time.Time) *model.SessionState {
	if state == nil {
		return nil
	}

	switch evt.Type {
	case model.EventUserMessage:
		if evt.Text != "" {
			state.Turns = append(state.Turns, model.ConversationTurn{
				Speaker: model.SpeakerUser,
				Text:    evt.Text,
				TS:      now,
			})
		}
	case model.EventAssistantText:
		if evt.Text != "" {
			speaker := evt.Speaker
			if !speaker.IsCounterpart() {
				speaker = model.SpeakerPatient
			}
			state.Turns = append(state.Turns, model.ConversationTurn{
				Speaker: speaker,
				Text:    evt.Text,
				TS:      now,
			})
		}
	case model.EventLanguageFeedback:
		state.LastFeedback = evt.Text
	case model.EventCheckpointCompleted, model.EventSuggestionUsed:
		// 检查点推进时清空提示
		state.Escalation = model.Escalation{}
	case model.EventCompletion:
		state.Completed = true
		state.CompletionInsights = evt.Text
	case model.EventDialogueEnded:
		state.DialogueEnded = true
		state.DialogueInsights = evt.Text
	case model.EventRestart:
		state.Turns = nil
		state.Checkpoints = state.Checkpoints.Reset()
		state.Escalation = model.Escalation{}
		state.Busy = false
		state.Completed = false
		state.CompletionInsights = ""
		state.DialogueEnded = false
		state.DialogueInsights = ""
		state.LastFeedback = ""
	}

	state.UpdatedAt = now
	return state
}
