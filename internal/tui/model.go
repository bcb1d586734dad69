package tui

import (
	"fmt"
	"math/rand"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/hersh/arena/internal/game"
	"github.com/hersh/arena/internal/netclient"
	"github.com/hersh/arena/internal/protocol"
	"github.com/hersh/arena/internal/reconcile"
)

const (
	tickInterval = 50 * time.Millisecond

	// Terminals report key presses but not releases, so a direction stays
	// held until key repeat stops refreshing it.
	keyHold = 200 * time.Millisecond

	// Longer gaps between ticks, after a stall, are simulated as one tick.
	maxStep = 250 * time.Millisecond

	sidePanelWidth = 28
)

// --- Custom tea.Msg types ---

type TickMsg time.Time

// Transport is the connection the model drives. netclient.Client
// implements it.
type Transport interface {
	reconcile.Remote
	JoinRoom(req protocol.JoinRoomRequest) error
	Close()
}

// --- Screens ---

type Screen int

const (
	ScreenConnecting Screen = iota
	ScreenJoining
	ScreenPlaying
	ScreenRoomError
)

// --- Model ---

type Model struct {
	screen     Screen
	playerID   string
	playerName string
	roomID     string
	width      int
	height     int

	client Transport
	engine *reconcile.Engine
	arena  *game.Arena
	rng    *rand.Rand

	moveX, moveY int
	movedAt      time.Time
	fire         bool
	lastTick     time.Time

	roomErr      string
	err          error
	disconnected bool
}

// NewModel creates a model that joins roomID once client is connected.
// An empty roomID selects the server's default room.
func NewModel(playerName, roomID string, client Transport) Model {
	return Model{
		screen:     ScreenConnecting,
		playerName: playerName,
		roomID:     roomID,
		client:     client,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case TickMsg:
		return m.handleTick(time.Time(msg))

	// Network messages
	case netclient.ConnectedMsg:
		return m.handleConnected(msg)
	case netclient.JoinedMsg:
		if m.engine == nil {
			return m, nil
		}
		m.roomID = msg.RoomID
		m.engine.Join(msg.RoomID, msg.Room)
		m.arena = game.NewArena(m.engine, m.rng, nil)
		m.screen = ScreenPlaying
		return m, nil
	case netclient.RoomErrorMsg:
		m.roomErr = msg.Message
		if msg.Full {
			m.roomErr = fmt.Sprintf("Room %q is full.", m.roomID)
		}
		m.screen = ScreenRoomError
		return m, nil
	case netclient.SnapshotMsg:
		if m.engine != nil {
			m.engine.ApplySnapshot(msg.Snapshot)
		}
		return m, nil
	case netclient.EventMsg:
		if m.engine != nil {
			m.engine.HandleEvent(msg.Event)
		}
		return m, nil
	case netclient.DisconnectedMsg:
		m.disconnected = true
		m.err = msg.Err
		return m, nil
	}
	return m, nil
}

// --- Network message handlers ---

func (m Model) handleConnected(msg netclient.ConnectedMsg) (tea.Model, tea.Cmd) {
	m.playerID = msg.AccountID
	m.engine = reconcile.NewEngine(m.playerID, m.playerName, m.client)
	m.screen = ScreenJoining
	if err := m.client.JoinRoom(protocol.JoinRoomRequest{RoomID: m.roomID, Name: m.playerName}); err != nil {
		m.err = err
		m.roomErr = "Could not send the join request."
		m.screen = ScreenRoomError
	}
	return m, nil
}

// --- Key handlers ---

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.engine != nil {
		m.engine.Close()
	}
	if m.client != nil {
		m.client.Close()
	}
	return m, tea.Quit
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m.quit()
	}
	if m.screen != ScreenPlaying {
		return m, nil
	}

	now := time.Now()
	switch msg.String() {
	case "left", "a":
		m.moveX, m.movedAt = -1, now
	case "right", "d":
		m.moveX, m.movedAt = 1, now
	case "up", "w":
		m.moveY, m.movedAt = -1, now
	case "down", "s":
		m.moveY, m.movedAt = 1, now
	case " ", "f":
		m.fire = true
	case "r":
		if m.engine.Self().Dead {
			m.arena.Respawn()
		}
	}
	return m, nil
}

// --- Tick handler ---

func (m Model) handleTick(now time.Time) (tea.Model, tea.Cmd) {
	dt := tickInterval
	if !m.lastTick.IsZero() {
		dt = now.Sub(m.lastTick)
	}
	if dt <= 0 || dt > maxStep {
		dt = tickInterval
	}
	m.lastTick = now
	if m.screen != ScreenPlaying || m.arena == nil {
		return m, tickCmd()
	}

	in := game.Input{Fire: m.fire}
	if now.Sub(m.movedAt) < keyHold {
		in.DX, in.DY = m.moveX, m.moveY
	} else {
		m.moveX, m.moveY = 0, 0
	}
	m.fire = false

	m.arena.Step(in, dt)
	m.engine.FlushPosition()
	return m, tickCmd()
}

// --- View ---

func (m Model) View() string {
	if m.disconnected {
		return m.renderCentered("Disconnected from server.\nPress Ctrl+C to exit.")
	}

	switch m.screen {
	case ScreenConnecting:
		return m.renderCentered("Connecting to server...")
	case ScreenJoining:
		return m.renderCentered("Joining room...")
	case ScreenRoomError:
		return m.renderCentered(deadStyle.Render(m.roomErr) + "\n\nPress Q to quit")
	case ScreenPlaying:
		return m.renderPlaying()
	}
	return ""
}

func (m Model) renderCentered(content string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(content)
}

func (m Model) renderPlaying() string {
	self := m.engine.Self()

	// Leave room for the side panel and the arena border.
	cols := max(m.width-sidePanelWidth-2, 20)
	rows := max(m.height-2, 10)
	view := Viewport{Cols: cols, Rows: rows, CenterX: self.X, CenterY: self.Y}

	arena := RenderArena(view, Scene{
		Players:     m.engine.Players(),
		Obstacles:   m.engine.Obstacles(),
		Powerups:    m.engine.Powerups(),
		Projectiles: m.arena.Projectiles(),
	})
	if self.Dead {
		arena = lipgloss.Place(lipgloss.Width(arena), lipgloss.Height(arena),
			lipgloss.Center, lipgloss.Center, RenderDeath(self.Score))
	}

	gameTime := m.engine.GameTime().Truncate(time.Second).String()
	side := lipgloss.NewStyle().
		Width(sidePanelWidth).
		Render(RenderHUD(self, m.roomID, m.arena.Boosted(), gameTime) + "\n" +
			RenderScoreboard(m.engine.Players()) + RenderControls())

	return lipgloss.JoinHorizontal(lipgloss.Top, side, arena)
}

func (m Model) GetPlayerID() string {
	return m.playerID
}
