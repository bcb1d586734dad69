package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/hersh/arena/internal/game"
	"github.com/hersh/arena/internal/protocol"
	"github.com/hersh/arena/internal/reconcile"
)

// World units covered by one terminal cell. Cells are about twice as tall
// as they are wide.
const (
	colUnits = 20.0
	rowUnits = 40.0
)

var (
	// palette is indexed by colour slot; slot 0 is the local player.
	palette = []string{
		"15",
		"196",
		"46",
		"226",
		"21",
		"201",
		"51",
		"208",
		"248",
	}

	arenaStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("15"))

	infoStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("15"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	obstacleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	healthStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	speedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	shotStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	edgeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))

	deadStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

// Viewport maps world coordinates onto a grid of terminal cells centred on
// a point.
type Viewport struct {
	Cols, Rows       int
	CenterX, CenterY float64
}

// Cell returns the grid cell holding world point x,y.
func (v Viewport) Cell(x, y float64) (col, row int, ok bool) {
	left := v.CenterX - float64(v.Cols)*colUnits/2
	top := v.CenterY - float64(v.Rows)*rowUnits/2
	fc := (x - left) / colUnits
	fr := (y - top) / rowUnits
	if fc < 0 || fr < 0 {
		return 0, 0, false
	}
	col, row = int(fc), int(fr)
	return col, row, col < v.Cols && row < v.Rows
}

// World returns the world point at the centre of cell col,row.
func (v Viewport) World(col, row int) (float64, float64) {
	left := v.CenterX - float64(v.Cols)*colUnits/2
	top := v.CenterY - float64(v.Rows)*rowUnits/2
	return left + (float64(col)+0.5)*colUnits, top + (float64(row)+0.5)*rowUnits
}

// Scene is everything drawn inside the arena frame.
type Scene struct {
	Players     []reconcile.Player
	Obstacles   []protocol.Point
	Powerups    []protocol.Powerup
	Projectiles []game.Projectile
}

type glyph struct {
	ch    string
	style lipgloss.Style
}

// RenderArena draws the scene through v.
func RenderArena(v Viewport, s Scene) string {
	grid := make([][]glyph, v.Rows)
	for r := range grid {
		grid[r] = make([]glyph, v.Cols)
		for c := range grid[r] {
			x, y := v.World(c, r)
			if x < 0 || y < 0 || x > protocol.WorldSize || y > protocol.WorldSize {
				grid[r][c] = glyph{"░", edgeStyle}
			} else {
				grid[r][c] = glyph{" ", lipgloss.NewStyle()}
			}
		}
	}
	put := func(x, y float64, g glyph) {
		if c, r, ok := v.Cell(x, y); ok {
			grid[r][c] = g
		}
	}

	half := game.ObstacleSize / 2.0
	for _, o := range s.Obstacles {
		for y := o.Y - half + rowUnits/2; y < o.Y+half; y += rowUnits {
			for x := o.X - half + colUnits/2; x < o.X+half; x += colUnits {
				put(x, y, glyph{"█", obstacleStyle})
			}
		}
	}
	for _, p := range s.Powerups {
		if p.Kind == protocol.PowerupSpeed {
			put(p.X, p.Y, glyph{"»", speedStyle})
		} else {
			put(p.X, p.Y, glyph{"+", healthStyle})
		}
	}
	for _, p := range s.Projectiles {
		put(p.X, p.Y, glyph{"•", shotStyle})
	}
	for _, p := range s.Players {
		if p.Dead || p.Disconnected {
			continue
		}
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorFor(p.Color)))
		ch := "@"
		if p.Self {
			style = style.Bold(true)
			ch = "◆"
		}
		put(p.X, p.Y, glyph{ch, style})
	}

	var sb strings.Builder
	for r, row := range grid {
		for _, g := range row {
			sb.WriteString(g.style.Render(g.ch))
		}
		if r < len(grid)-1 {
			sb.WriteString("\n")
		}
	}
	return arenaStyle.Render(sb.String())
}

// ColorFor returns the terminal colour of a palette slot.
func ColorFor(slot int) string {
	if slot < 0 || slot >= len(palette) {
		return palette[len(palette)-1]
	}
	return palette[slot]
}

// HealthBar renders health as a ten segment bar.
func HealthBar(health int) string {
	if health < 0 {
		health = 0
	}
	if health > protocol.MaxHealth {
		health = protocol.MaxHealth
	}
	filled := (health*10 + protocol.MaxHealth - 1) / protocol.MaxHealth
	color := "46"
	switch {
	case health <= 25:
		color = "196"
	case health <= 50:
		color = "226"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(strings.Repeat("█", filled)) +
		strings.Repeat("░", 10-filled)
}

// RenderHUD renders the local player's status panel.
func RenderHUD(self reconcile.Player, roomID string, boosted bool, gameTime string) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("ARENA") + "\n\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Player: %s", self.Name)) + "\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Room:   %s", roomID)) + "\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Time:   %s", gameTime)) + "\n\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("HP %3d %s", max(self.Health, 0), HealthBar(self.Health))) + "\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Score: %d", self.Score)) + "\n")
	if boosted {
		sb.WriteString(speedStyle.Render(" SPEED BOOST") + "\n")
	}
	return sb.String()
}

// RenderScoreboard lists players by score, highest first.
func RenderScoreboard(players []reconcile.Player) string {
	ranked := append([]reconcile.Player(nil), players...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Name < ranked[j].Name
	})

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("SCORES") + "\n")
	for i, p := range ranked {
		name := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorFor(p.Color))).Render(p.Name)
		status := ""
		switch {
		case p.Disconnected:
			status = " (away)"
		case p.Dead:
			status = " ☠"
		}
		marker := ""
		if p.Self {
			marker = " <"
		}
		sb.WriteString(fmt.Sprintf("%d. %s %d%s%s\n", i+1, name, p.Score, status, marker))
	}
	return sb.String()
}

// RenderDeath is the overlay shown while the local player is dead.
func RenderDeath(score int) string {
	return deadStyle.
		Align(lipgloss.Center).
		Render(fmt.Sprintf("\n  YOU DIED  \n  Score: %d  \n\n  Press R to respawn  \n", score))
}

func RenderControls() string {
	return infoStyle.Render(`
Controls:
  ←↑↓→/WASD  Move
  Space/F    Fire
  R          Respawn
  Q          Quit
`)
}
