// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers ("ns:action:payload")
//   - HTML-safe text formatting for ParseMode="HTML"
package tgui
