package services

import (
	"strings"

	"forms-api/internal/models"
)

// ResolveFormType infers a form's type from its schema text. The rules are
// ordered and the first match wins:
//
//  1. the literal words "waitlist", "feedback", "contact", in that order
//  2. field names: rating+feedback is FEEDBACK; email+name without message or
//     rating is WAITLIST; email+name+message is CONTACT
//  3. anything else is CUSTOM
//
// Existing forms depend on this exact ordering.
func ResolveFormType(schemaText string) models.FormType {
	text := strings.ToLower(schemaText)

	switch {
	case strings.Contains(text, "waitlist"):
		return models.FormTypeWaitlist
	case strings.Contains(text, "feedback"):
		return models.FormTypeFeedback
	case strings.Contains(text, "contact"):
		return models.FormTypeContact
	}

	hasEmail := strings.Contains(text, "email")
	hasName := strings.Contains(text, "name")
	hasMessage := strings.Contains(text, "message")
	hasRating := strings.Contains(text, "rating")
	hasFeedback := strings.Contains(text, "feedback")

	switch {
	case hasRating && hasFeedback:
		return models.FormTypeFeedback
	case hasEmail && hasName && !hasMessage && !hasRating:
		return models.FormTypeWaitlist
	case hasEmail && hasName && hasMessage:
		return models.FormTypeContact
	}

	return models.FormTypeCustom
}
