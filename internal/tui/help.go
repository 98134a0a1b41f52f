package tui

// HelpView returns the command summary of the interactive shell.
func HelpView() string {
	return StyleHelp.Render(`agent add <template> [name] | agent rm|restart <id> | agent rename <id> <name> | agent retype <id> <type> | agent list
task submit <title> [--priority p] [--requires a,b] [--files f] [--after id] [--conflicts id]
task complete|retry|rm <id> | task fail|block <id> <reason> | task depend <id> <on> | task conflict <a> <b> | task list [--ready|--open]
merge <agent> [--strategy ort|ours|theirs] | status | help | quit`)
}
