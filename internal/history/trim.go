package history

import "github.com/restflow/engine/pkg/models"

// TrimOldMessages keeps the first system message, the first user message,
// and the most recent KeepRecent messages from the remainder, discarding
// everything else and leaving a TrimNotice system message in their place
// (§4.3).
type TrimOldMessages struct {
	KeepRecent int
	TrimNotice string
}

// NewTrimOldMessages builds the reference trim processor.
func NewTrimOldMessages(keepRecent int, trimNotice string) *TrimOldMessages {
	return &TrimOldMessages{KeepRecent: keepRecent, TrimNotice: trimNotice}
}

func (t *TrimOldMessages) Name() string { return "trim_old_messages" }

// Process implements the algorithm in §4.3:
//  1. Preserve the first system message and first user message by index.
//  2. From the remaining messages (original order), keep the last KeepRecent.
//  3. If anything was discarded, insert TrimNotice immediately before the
//     first surviving tail message (or append it if the tail is empty).
//  4. Output order matches the original relative order of survivors.
func (t *TrimOldMessages) Process(messages []models.Message) []models.Message {
	if len(messages) == 0 {
		return nil
	}

	preservedIdx := map[int]bool{}
	sysIdx, userIdx := -1, -1
	for i, m := range messages {
		if sysIdx == -1 && m.Role == models.RoleSystem {
			sysIdx = i
		}
		if userIdx == -1 && m.Role == models.RoleUser {
			userIdx = i
		}
		if sysIdx != -1 && userIdx != -1 {
			break
		}
	}
	if sysIdx != -1 {
		preservedIdx[sysIdx] = true
	}
	if userIdx != -1 {
		preservedIdx[userIdx] = true
	}

	remainingIdx := make([]int, 0, len(messages))
	for i := range messages {
		if !preservedIdx[i] {
			remainingIdx = append(remainingIdx, i)
		}
	}

	keptTailIdx := remainingIdx
	discarded := false
	if len(remainingIdx) > t.KeepRecent {
		discarded = true
		keptTailIdx = remainingIdx[len(remainingIdx)-t.KeepRecent:]
	}

	keepSet := map[int]bool{}
	for idx := range preservedIdx {
		keepSet[idx] = true
	}
	for _, idx := range keptTailIdx {
		keepSet[idx] = true
	}

	out := make([]models.Message, 0, len(keepSet)+1)
	noticeInserted := false
	firstTailIdx := -1
	if len(keptTailIdx) > 0 {
		firstTailIdx = keptTailIdx[0]
	}

	for i, m := range messages {
		if discarded && t.TrimNotice != "" && !noticeInserted && i == firstTailIdx {
			out = append(out, models.NewSystemMessage(t.TrimNotice))
			noticeInserted = true
		}
		if keepSet[i] {
			out = append(out, m)
		}
	}
	if discarded && t.TrimNotice != "" && !noticeInserted {
		out = append(out, models.NewSystemMessage(t.TrimNotice))
	}

	return out
}
