package ui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/chmouel/lazyscc/internal/models"
	"github.com/chmouel/lazyscc/internal/theme"
	"github.com/muesli/reflow/wrap"
)

// Renderer formats command results for the terminal.
type Renderer struct {
	thm   *theme.Theme
	icons bool
	root  string
}

// NewRenderer returns a Renderer. Paths under root are shown relative to it.
func NewRenderer(thm *theme.Theme, showIcons bool, root string) *Renderer {
	return &Renderer{thm: thm, icons: showIcons, root: root}
}

func (r *Renderer) displayPath(path string) string {
	if r.root == "" {
		return path
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func (r *Renderer) headerStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(r.thm.Accent).Bold(true).Padding(0, 1)
}

// StatusTable renders one row per file with its state, depot path and the
// users holding it.
func (r *Renderer) StatusTable(states []models.FileState) string {
	rows := make([][]string, 0, len(states))
	kinds := make([]models.FileStateKind, 0, len(states))
	for _, st := range states {
		marker := stateMarker(st.State)
		name := r.displayPath(st.Path)
		if r.icons {
			marker = stateIcon(st.State)
			name = iconWithSpace(fileIcon(st.Path)) + name
		}
		state := st.State.String()
		if st.Modified {
			state += "*"
		}
		rows = append(rows, []string{marker, name, state, st.DepotPath, strings.Join(st.OtherUsers, ", ")})
		kinds = append(kinds, st.State)
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(r.thm.Border)).
		Headers("", "File", "State", "Depot", "Opened by").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.headerStyle()
			}
			if row < 0 || row >= len(kinds) {
				return cell
			}
			switch col {
			case 0, 2:
				return cell.Foreground(r.thm.StateColor(kinds[row]))
			case 4:
				return cell.Foreground(r.thm.ErrorFg)
			default:
				return cell.Foreground(r.thm.TextFg)
			}
		})
	return t.Render()
}

// History renders the revisions of one file, newest first, wrapping
// descriptions to width.
func (r *Renderer) History(h models.FileHistory, width int) string {
	var b strings.Builder
	title := lipgloss.NewStyle().Foreground(r.thm.Accent).Bold(true)
	meta := lipgloss.NewStyle().Foreground(r.thm.MutedFg)
	rev := lipgloss.NewStyle().Foreground(r.thm.Cyan).Bold(true)

	header := r.displayPath(h.Path)
	if h.DepotPath != "" {
		header += " (" + h.DepotPath + ")"
	}
	b.WriteString(title.Render(header))
	b.WriteString("\n")
	if len(h.Revisions) == 0 {
		b.WriteString(meta.Render("  no revisions"))
		b.WriteString("\n")
		return b.String()
	}

	descWidth := max(width-6, 20)
	for _, fr := range h.Revisions {
		date := ""
		if !fr.Date.IsZero() {
			date = fr.Date.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "  %s %s\n", rev.Render("#"+strconv.Itoa(fr.Revision)),
			meta.Render(fmt.Sprintf("change %s by %s on %s, %s, %d bytes",
				fr.Changelist, fr.User, date, fr.Action, fr.Size)))
		if desc := strings.TrimSpace(fr.Description); desc != "" {
			for _, line := range strings.Split(wrap.String(desc, descWidth), "\n") {
				b.WriteString("      ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// Info renders key/value pairs sorted by key.
func (r *Renderer) Info(info map[string]string) string {
	keys := make([]string, 0, len(info))
	width := 0
	for k := range info {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	key := lipgloss.NewStyle().Foreground(r.thm.Accent).Width(width + 2)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(key.Render(k))
		b.WriteString(info[k])
		b.WriteString("\n")
	}
	return b.String()
}

// Journal renders command records, newest first.
func (r *Renderer) Journal(recs []models.CommandRecord) string {
	rows := make([][]string, 0, len(recs))
	ok := make([]bool, 0, len(recs))
	for _, rec := range recs {
		result := "ok"
		if !rec.Succeeded {
			result = rec.ErrorType.String()
			if len(rec.Errors) > 0 {
				result += ": " + rec.Errors[0]
			}
		}
		rows = append(rows, []string{
			rec.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Type.String(),
			strconv.Itoa(len(rec.Files)),
			rec.Duration().String(),
			result,
		})
		ok = append(ok, rec.Succeeded)
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(r.thm.Border)).
		Headers("Completed", "Command", "Files", "Took", "Result").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.headerStyle()
			}
			if col == 4 && row >= 0 && row < len(ok) {
				if ok[row] {
					return cell.Foreground(r.thm.SuccessFg)
				}
				return cell.Foreground(r.thm.ErrorFg)
			}
			return cell.Foreground(r.thm.TextFg)
		})
	return t.Render()
}
