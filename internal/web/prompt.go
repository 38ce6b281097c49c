package web

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/mailpilot/pkg/models"
)

const basePrompt = `You are an email assistant. You help the user read, triage, search, and respond to email through the tools available to you.

Guidelines:
- Use search-mailbox to look things up in the user's mailbox; use web-search and browse-url for anything on the open web.
- Actions that change the user's mailbox or send mail (prepare-draft, send-email, archive, star, snooze and their counterparts) are carried out by the user's mail client after your turn ends. Request them and stop; do not wait for confirmation.
- Be concise. Summarize email content instead of quoting it wholesale.
- Never invent email content. If a search found nothing, say so.`

// buildSystemPrompt combines the assistant persona with the request's
// context: the open folder and, when present, the thread the user is
// looking at.
func buildSystemPrompt(thread *models.EmailThread, folder string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if folder != "" {
		fmt.Fprintf(&b, "\n\nThe user is currently viewing the %s folder.", folder)
	}

	if thread != nil && len(thread.Messages) > 0 {
		b.WriteString("\n\nThe user currently has this email thread open:\n")
		fmt.Fprintf(&b, "Subject: %s\n", thread.Subject)
		for _, msg := range thread.Messages {
			fmt.Fprintf(&b, "\nFrom: %s\nDate: %s\n", msg.From, msg.Date)
			body := msg.Body
			if body == "" {
				body = msg.Snippet
			}
			// Thread context is background, not a tool observation; cap
			// each message so a long thread cannot crowd out the prompt.
			if len(body) > 2000 {
				body = body[:2000] + "..."
			}
			b.WriteString(body)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// draftContinuityTurns synthesizes a turn pair describing an in-progress
// draft, so the model has continuity without the client re-sending its
// edit history.
func draftContinuityTurns(draft *models.Draft) []models.ChatMessage {
	if draft == nil {
		return nil
	}

	var b strings.Builder
	b.WriteString("There is an in-progress draft:\n")
	if len(draft.To) > 0 {
		fmt.Fprintf(&b, "To: %s\n", strings.Join(draft.To, ", "))
	}
	if len(draft.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(draft.Cc, ", "))
	}
	if draft.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", draft.Subject)
	}
	if draft.Body != "" {
		fmt.Fprintf(&b, "Body:\n%s\n", draft.Body)
	}

	return []models.ChatMessage{
		{Role: models.RoleUser, Content: strings.TrimSpace(b.String())},
		{Role: models.RoleAssistant, Content: "Understood. I'll keep that draft in mind."},
	}
}
