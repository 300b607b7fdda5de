package bot

import "strings"

// Command is one parsed chat command: the issuing user, a lower-cased
// verb, and the remaining whitespace-separated arguments.
type Command struct {
	User string
	Verb string
	Args []string
}

// ParseCommand interprets a chat message as a command. It reports false
// when the text is empty or does not start with the command prefix.
func ParseCommand(text, user, prefix string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || fields[0] != prefix {
		return Command{}, false
	}

	cmd := Command{User: user}
	if len(fields) > 1 {
		cmd.Verb = strings.ToLower(fields[1])
	}
	if len(fields) > 2 {
		cmd.Args = fields[2:]
	}
	return cmd, true
}

// RuleArgs holds the parsed arguments of a watch/follow/mute command.
type RuleArgs struct {
	// Category is the free text left after the tags clause is stripped.
	Category string

	// Tags lists the tag names from a tags:a,b,c clause.
	Tags []string

	// HasTags distinguishes "no tags clause" from an empty one.
	HasTags bool
}

// ParseRuleArgs splits rule-command arguments into an optional category
// name and an optional tags:a,b,c clause. The tags clause is removed
// before the category text is assembled.
func ParseRuleArgs(args []string) RuleArgs {
	var parsed RuleArgs
	var rest []string

	for _, token := range args {
		if strings.HasPrefix(token, "tags:") {
			parsed.HasTags = true
			for _, tag := range strings.Split(strings.TrimPrefix(token, "tags:"), ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					parsed.Tags = append(parsed.Tags, tag)
				}
			}
			continue
		}
		rest = append(rest, token)
	}

	parsed.Category = strings.Join(rest, " ")
	return parsed
}
