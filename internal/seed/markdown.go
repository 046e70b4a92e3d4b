package seed

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"missioncontrol/internal/core"
)

var (
	backlogHeading    = regexp.MustCompile(`(?i)^##\s*backlog`)
	inProgressHeading = regexp.MustCompile(`(?i)^##\s*in[\s-]?progress`)
	doneHeading       = regexp.MustCompile(`(?i)^##\s*done`)
	anyHeading        = regexp.MustCompile(`^#{1,2}\s`)
	boardItem         = regexp.MustCompile(`^- \[([ xX])\]\s+(.+)$`)
	trailingOwner     = regexp.MustCompile(`\s*\(([^)]+)\)\s*$`)
	tableSeparator    = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
)

// LoadMarkdown builds a seed document from a task board and an agent registry.
// Either path may be empty; at least one is required.
func LoadMarkdown(boardPath, agentsPath string) (*Document, error) {
	if boardPath == "" && agentsPath == "" {
		return nil, fmt.Errorf("%w: a board or an agent registry is required", core.ErrInvalidArgument)
	}
	doc := &Document{}
	if agentsPath != "" {
		f, err := os.Open(agentsPath)
		if err != nil {
			return nil, fmt.Errorf("open agent registry: %w", err)
		}
		defer f.Close()
		if doc.Agents, err = ParseAgentRegistry(f); err != nil {
			return nil, err
		}
	}
	if boardPath != "" {
		f, err := os.Open(boardPath)
		if err != nil {
			return nil, fmt.Errorf("open task board: %w", err)
		}
		defer f.Close()
		if doc.Tasks, err = ParseBoard(f); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// ParseBoard reads checklist items under the "## Backlog", "## In Progress" and "## Done"
// headings. The section decides the status, not the checkbox. A trailing "(Name)" is the owner.
// Any other heading ends the current section.
func ParseBoard(r io.Reader) ([]TaskDoc, error) {
	var (
		tasks   []TaskDoc
		section core.TaskStatus
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case backlogHeading.MatchString(line):
			section = core.TaskStatusBacklog
			continue
		case inProgressHeading.MatchString(line):
			section = core.TaskStatusInProgress
			continue
		case doneHeading.MatchString(line):
			section = core.TaskStatusDone
			continue
		case anyHeading.MatchString(line):
			section = ""
			continue
		}
		if section == "" {
			continue
		}
		m := boardItem.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		task := TaskDoc{Title: strings.TrimSpace(m[2]), Status: section}
		if owner := trailingOwner.FindStringSubmatchIndex(task.Title); owner != nil {
			task.Owner = strings.TrimSpace(task.Title[owner[2]:owner[3]])
			task.Title = strings.TrimSpace(task.Title[:owner[0]])
		}
		tasks = append(tasks, task)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read task board: %w", err)
	}
	return tasks, nil
}

// ParseAgentRegistry reads the first Markdown table with a Name (or Agent) column.
// Role, Status, Capabilities and Memory columns are optional. Status text mentioning
// "working" or "ativo" maps to working, anything else to idle.
func ParseAgentRegistry(r io.Reader) ([]AgentDoc, error) {
	var (
		agents  []AgentDoc
		columns map[string]int
		done    bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "|") {
			if columns != nil {
				done = true
			}
			continue
		}
		if done {
			break
		}
		if tableSeparator.MatchString(line) {
			continue
		}
		cells := splitRow(line)
		if columns == nil {
			columns = headerColumns(cells)
			if _, ok := columns["name"]; !ok {
				columns = nil
			}
			continue
		}
		cell := func(key string) string {
			i, ok := columns[key]
			if !ok || i >= len(cells) {
				return ""
			}
			return cells[i]
		}
		name := cell("name")
		if name == "" {
			continue
		}
		agent := AgentDoc{
			Name:       name,
			Role:       cell("role"),
			Status:     registryStatus(cell("status")),
			MemoryPath: cell("memory"),
		}
		if caps := cell("capabilities"); caps != "" {
			for _, c := range strings.Split(caps, ",") {
				if c = strings.TrimSpace(c); c != "" {
					agent.Capabilities = append(agent.Capabilities, c)
				}
			}
		}
		agents = append(agents, agent)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read agent registry: %w", err)
	}
	if columns == nil {
		return nil, fmt.Errorf("%w: agent registry has no table with a name column", core.ErrInvalidArgument)
	}
	return agents, nil
}

func splitRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), "*`")
	}
	return parts
}

func headerColumns(cells []string) map[string]int {
	columns := make(map[string]int, len(cells))
	for i, c := range cells {
		key := strings.ToLower(c)
		switch {
		case key == "name" || key == "agent":
			key = "name"
		case strings.HasPrefix(key, "memory"):
			key = "memory"
		case strings.HasPrefix(key, "capabilit") || key == "skills":
			key = "capabilities"
		}
		if _, seen := columns[key]; !seen {
			columns[key] = i
		}
	}
	return columns
}

func registryStatus(text string) core.AgentStatus {
	text = strings.ToLower(text)
	if strings.Contains(text, "working") || strings.Contains(text, "ativo") {
		return core.AgentStatusWorking
	}
	return core.AgentStatusIdle
}
