package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders the command list in HTML parse mode. Owner-only commands
// are listed only for owners.
func (m *Manager) helpText(viewer int64) string {
	owner := m.IsOwner(viewer)
	m.mu.RLock()
	cmds := append([]Command(nil), m.ordered...)
	m.mu.RUnlock()

	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})

	lines := []string{"📚 <b>Commands</b>", ""}
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		line := "• "
		if c.Access == AccessOwnerOnly {
			line += "🔒 "
		}
		usage := "/" + c.Name
		if u := strings.TrimSpace(c.Usage); u != "" {
			usage = u
		}
		line += "<code>" + html.EscapeString(usage) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	if !owner {
		lines = append(lines, "", "Send me a quote in private and it may be shared on the channel.")
	}
	return strings.Join(lines, "\n")
}
