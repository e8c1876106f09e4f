package supervisor

import (
	"strings"

	"inferbridge/internal/protocol"
)

// chatMLStop ends an assistant turn in the ChatML template.
const chatMLStop = "<|im_end|>"

// renderChatML flattens a conversation into a ChatML prompt that ends with an
// open assistant turn.
func renderChatML(msgs []protocol.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("<|im_start|>")
		b.WriteString(string(m.Role))
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteString(chatMLStop)
		b.WriteByte('\n')
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}
