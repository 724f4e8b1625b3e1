package bot

const (
	msgStart = "Hi! I'm your Voice Reminder Bot. I can:\n" +
		"1. Create reminders from voice messages\n" +
		"2. Set reminders using commands\n" +
		"3. Manage your reminders\n\n" +
		"Try sending a voice message saying 'remind me to call mom tomorrow'!"

	msgHelp = "🤖 Available commands:\n\n" +
		"Voice Messages:\n" +
		"• Send a voice message saying something like:\n" +
		"  'remind me to call mom tomorrow'\n" +
		"  'set a reminder for meeting at 3pm'\n\n" +
		"Commands:\n" +
		"• /add_reminder <date> <message>\n" +
		"• /remove_reminder <id>\n" +
		"• /reminders - list all reminders\n\n" +
		"Example:\n" +
		"/add_reminder tomorrow Submit assignment"

	msgAddUsage = "Please use the format: /add_reminder <date> <message>\n" +
		"Examples:\n" +
		"/add_reminder tomorrow Submit assignment\n" +
		"/add_reminder 'next monday' Team meeting"
	msgBadDate     = "❌ Could not understand the date format. Please try again."
	msgSaveFailed  = "❌ Could not save the reminder right now. Please try again later."
	msgRemoveUsage = "Please provide the reminder ID to remove.\nExample: /remove_reminder 1"
	msgBadID       = "❌ The reminder ID must be a number.\nExample: /remove_reminder 1"
	msgNotFound    = "❌ Reminder not found or you don't have permission to remove it."
	msgNoReminders = "You don't have any reminders set."
	msgStoreDown   = "❌ Reminders are unavailable right now. Please try again later."

	msgVoiceProcessing = "Processing your voice message..."
	msgVoiceFailed     = "Sorry, an error occurred while processing your voice message."
	msgVoiceDisabled   = "Sorry, voice messages are not supported right now."
	msgVoiceTooLong    = "Sorry, that voice message is too long. Please keep it under %s."
	msgNoneFound       = "❌ No reminders found in the message"

	msgUnknownCommand = "Unknown command. Try /help"
	msgBusy           = "I'm busy right now, please try again in a moment."
)
