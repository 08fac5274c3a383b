// Netplay — CLI entry point.
//
// This tool hosts or joins a peer-to-peer game session over a WebRTC
// DataChannel. The host is the authority: it assigns player ids, relays
// traffic between clients, and pushes the full world to joiners. Signaling is
// either an automated WebSocket exchange (same LAN or a forwarded port) or a
// manual copy-paste of descriptor blobs over any side channel; after that no
// servers are involved.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -name, -signal, -addr, -url, -wander).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/gridfall/netplay/internal/config"
	"github.com/gridfall/netplay/internal/protocol"
	"github.com/gridfall/netplay/internal/session"
	signalpkg "github.com/gridfall/netplay/internal/signal"
	"github.com/gridfall/netplay/internal/statesync"
	"github.com/gridfall/netplay/internal/util"
	"github.com/gridfall/netplay/internal/world"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: host or client")
	name := flag.String("name", "", "Player name shown to other peers")
	signalFlag := flag.String("signal", "exchange", "Signaling: exchange or manual")
	addr := flag.String("addr", ":0", "Exchange server listen address (host only)")
	urlFlag := flag.String("url", "", "Join URL from the host (client only)")
	wander := flag.Bool("wander", false, "Walk the local player in a circle to generate traffic")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	// Pasted descriptor blobs can exceed the default token size.
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	pterm.Info.Println(fmt.Sprintf("Netplay — v%s", version))
	pterm.Println()

	signaling := config.Signaling(*signalFlag)
	if signaling != config.SignalingExchange && signaling != config.SignalingManual {
		util.LogError("invalid -signal: must be 'exchange' or 'manual'")
		os.Exit(1)
	}

	switch *role {
	case "":
		// No -role flag → interactive mode.
		runInteractive(ctx, scanner, *wander)

	case "host":
		runHost(ctx, config.Config{
			Role:         config.RoleHost,
			Signaling:    signaling,
			PlayerName:   playerName(*name),
			ExchangeAddr: *addr,
		}, scanner, *wander)

	case "client":
		cfg := config.Config{
			Role:       config.RoleClient,
			Signaling:  signaling,
			PlayerName: playerName(*name),
		}

		if signaling == config.SignalingExchange {
			if *urlFlag == "" {
				util.LogError("missing -url for client role")
				os.Exit(1)
			}
			joinURL, err := normalizeJoinURL(*urlFlag)
			if err != nil {
				util.LogError("%v", err)
				os.Exit(1)
			}
			cfg.JoinURL = joinURL
		}

		runClient(ctx, cfg, scanner, *wander)

	default:
		util.LogError("invalid -role: must be 'host' or 'client'")
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive falls back to interactive prompts when no -role flag is
// provided.
func runInteractive(ctx context.Context, scanner *bufio.Scanner, wander bool) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host   — Start a new game session", "Client — Join an existing session"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	name := askName()
	signaling := askSignaling()

	if strings.HasPrefix(role, "Host") {
		runHost(ctx, config.Config{
			Role:         config.RoleHost,
			Signaling:    signaling,
			PlayerName:   name,
			ExchangeAddr: ":0",
		}, scanner, wander)
		return
	}

	cfg := config.Config{
		Role:       config.RoleClient,
		Signaling:  signaling,
		PlayerName: name,
	}
	if signaling == config.SignalingExchange {
		cfg.JoinURL = askURL()
	}
	runClient(ctx, cfg, scanner, wander)
}

// runHost starts an authoritative session and accepts joining clients.
func runHost(ctx context.Context, cfg config.Config, scanner *bufio.Scanner, wander bool) {
	store := world.NewStore()
	m := statesync.NewManager(true, cfg.PlayerName, store)
	defer m.Close()

	wireEvents(m, store)
	m.Start()

	// Sessions are owned here; the manager only routes over them.
	var sessMu sync.Mutex
	var sessions []*session.Session
	defer func() {
		sessMu.Lock()
		defer sessMu.Unlock()
		for _, s := range sessions {
			s.Close()
		}
	}()

	register := func(s *session.Session) {
		m.AttachPeer(uuid.NewString(), s)
		sessMu.Lock()
		sessions = append(sessions, s)
		sessMu.Unlock()
	}

	neg := signalpkg.NewNegotiator()

	switch cfg.Signaling {
	case config.SignalingManual:
		if err := hostManual(ctx, neg, register, scanner); err != nil {
			util.LogError("signaling failed: %v", err)
			os.Exit(1)
		}

	default:
		pin := signalpkg.GeneratePIN(4)
		ex := signalpkg.NewExchange(pin)
		port, err := ex.Start(cfg.ExchangeAddr)
		if err != nil {
			util.LogError("failed to start exchange server: %v", err)
			os.Exit(1)
		}
		defer ex.Close()

		go ex.Serve(ctx, neg, register)
		printJoinBanner(port, pin)
	}

	util.StartStatsReporter(ctx)
	go readChat(m, scanner)

	runLoop(ctx, m, store, wander)

	// Best effort: the channels are still open while ctx unwinds.
	m.Leave()
}

// runClient joins a hosted session and mirrors its world.
func runClient(ctx context.Context, cfg config.Config, scanner *bufio.Scanner, wander bool) {
	store := world.NewStore()
	m := statesync.NewManager(false, cfg.PlayerName, store)
	defer m.Close()

	wireEvents(m, store)
	m.Start()

	register := func(s *session.Session) {
		m.AttachPeer(uuid.NewString(), s)
	}

	neg := signalpkg.NewNegotiator()

	var sess *session.Session
	var err error

	switch cfg.Signaling {
	case config.SignalingManual:
		sess, err = clientManual(ctx, neg, register, scanner)
	default:
		util.LogInfo("connecting to %s", cfg.JoinURL)
		sess, err = signalpkg.Join(ctx, neg, cfg.JoinURL, register)
	}
	if err != nil {
		util.LogError("failed to join session: %v", err)
		os.Exit(1)
	}
	defer sess.Close()

	util.LogSuccess("connected — waiting for game state")

	util.StartStatsReporter(ctx)
	go readChat(m, scanner)

	runLoop(ctx, m, store, wander)

	m.Leave()
}

// ---------------------------------------------------------------------------
// Session wiring
// ---------------------------------------------------------------------------

// wireEvents connects manager callbacks to the terminal and spawns the local
// avatar once our own join settles.
func wireEvents(m *statesync.Manager, store *world.Store) {
	m.OnPlayerJoin(func(playerID, name string) {
		if playerID != "" && playerID == m.PlayerID() {
			spawnPlayer(store, playerID)
			util.LogSuccess("playing as %s (player %s)", name, playerID)
			return
		}
		if playerID == "" {
			// Relayed join: the authoritative id arrives with the entity
			// updates that follow.
			util.LogInfo("player joined: %s", name)
			return
		}
		util.LogInfo("player joined: %s (player %s)", name, playerID)
	})

	m.OnPlayerLeave(func(playerID, name string) {
		util.LogInfo("player left: %s (player %s)", name, playerID)
	})

	m.OnChatMessage(func(name, text string, timestamp int64) {
		at := time.UnixMilli(timestamp).Format("15:04:05")
		pterm.Printf("[%s] %s: %s\n", at, name, text)
	})

	m.OnConnectionState(func(connected bool) {
		if connected {
			util.LogSuccess("peer link established")
		} else {
			util.LogWarning("all peer links down")
		}
	})

	m.OnMessage(func(from string, msg *protocol.Message) {
		util.LogDebug("unhandled message type %d from %s", msg.Type, util.ShortID(from))
	})
}

// playerEntityID names the avatar entity for a player.
func playerEntityID(playerID string) string { return "player-" + playerID }

// spawnPlayer creates the local avatar. Players line up along the X axis by
// join order so avatars do not overlap at the origin.
func spawnPlayer(store *world.Store, playerID string) {
	n, err := strconv.Atoi(playerID)
	if err != nil {
		n = 1
	}
	store.Spawn(statesync.Entity{
		ID:       playerEntityID(playerID),
		OwnerID:  playerID,
		Type:     protocol.EntityTypePlayer,
		ModelID:  "default",
		Position: [3]float64{float64(n-1) * 2, 0, 0},
		Rotation: [4]float64{0, 0, 0, 1},
	})
}

// runLoop is the fixed-rate frame driver: it advances the sync manager the
// way a game engine tick would, and optionally wanders the local player to
// keep state changing.
func runLoop(ctx context.Context, m *statesync.Manager, store *world.Store, wander bool) {
	const frame = time.Second / 60

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	bot := &wanderer{}
	last := time.Now()
	frames := 0

	for {
		select {
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			if wander {
				bot.step(store, m.PlayerID(), dt)
			}
			m.Update(dt)

			frames++
			if frames%600 == 0 {
				logLatencies(m)
			}

		case <-ctx.Done():
			return
		}
	}
}

// logLatencies reports the measured round trip per peer.
func logLatencies(m *statesync.Manager) {
	for _, id := range m.Peers() {
		if rtt, ok := m.Latency(id); ok {
			util.LogInfo("peer %s round trip: %s", util.ShortID(id), rtt)
		}
	}
}

// readChat forwards stdin lines as chat until input closes.
func readChat(m *statesync.Manager, scanner *bufio.Scanner) {
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		m.SendChat(text)
	}
}

const (
	wanderRadius = 3.0
	wanderSpeed  = 0.8 // radians per second
)

// wanderer walks the local player in a slow circle so there is always some
// owned state for the sync tick to pick up.
type wanderer struct {
	started bool
	center  [3]float64
	angle   float64
}

func (w *wanderer) step(store *world.Store, playerID string, dt float64) {
	if playerID == "" {
		return // not joined yet
	}
	e, ok := store.Get(playerEntityID(playerID))
	if !ok {
		return
	}

	if !w.started {
		w.started = true
		// Walk a circle that passes through the spawn point.
		w.center = e.Position
		w.center[0] -= wanderRadius
	}

	w.angle += wanderSpeed * dt
	sin, cos := math.Sin(w.angle), math.Cos(w.angle)

	e.Position[0] = w.center[0] + cos*wanderRadius
	e.Position[2] = w.center[2] + sin*wanderRadius

	// Face along the tangent: a yaw rotation about the Y axis.
	yaw := w.angle + math.Pi/2
	e.Rotation = [4]float64{0, math.Sin(yaw / 2), 0, math.Cos(yaw / 2)}

	e.Velocity = []float64{-sin * wanderRadius * wanderSpeed, 0, cos * wanderRadius * wanderSpeed}
	e.Frame = int(w.angle*10) % 30 // walk cycle animation frame

	store.Apply(e)
}

// ---------------------------------------------------------------------------
// Signaling helpers
// ---------------------------------------------------------------------------

// hostManual drives the copy-paste descriptor exchange for a single guest,
// blocking until the channel opens. More players need the exchange flow.
func hostManual(ctx context.Context, neg *signalpkg.Negotiator, register func(*session.Session), scanner *bufio.Scanner) error {
	blob, err := neg.CreateOffer(ctx)
	if err != nil {
		return err
	}

	pterm.Println("Send this offer to the joining player:")
	pterm.Println()
	fmt.Println(blob)
	pterm.Println()

	answer, err := askBlob(scanner, "Paste the player's answer and press Enter:")
	if err != nil {
		return err
	}

	sess, err := neg.ProcessAnswer(answer)
	if err != nil {
		return err
	}
	register(sess)

	select {
	case <-sess.Ready():
		return nil
	case <-sess.Done():
		return errors.New("transport closed before the channel opened")
	case <-ctx.Done():
		sess.Close()
		return ctx.Err()
	}
}

// clientManual answers a pasted offer and blocks until the channel opens.
func clientManual(ctx context.Context, neg *signalpkg.Negotiator, register func(*session.Session), scanner *bufio.Scanner) (*session.Session, error) {
	offer, err := askBlob(scanner, "Paste the host's offer and press Enter:")
	if err != nil {
		return nil, err
	}

	sess, answer, err := neg.CreateAnswer(ctx, offer)
	if err != nil {
		return nil, err
	}
	register(sess)

	pterm.Println()
	pterm.Println("Send this answer back to the host:")
	pterm.Println()
	fmt.Println(answer)
	pterm.Println()

	select {
	case <-sess.Ready():
		return sess, nil
	case <-sess.Done():
		return nil, errors.New("transport closed before the channel opened")
	case <-ctx.Done():
		sess.Close()
		return nil, ctx.Err()
	}
}

// printJoinBanner shows how clients reach this session. The LAN address is a
// best guess; hosts behind NAT need a forwarded port or the manual flow.
func printJoinBanner(port int, pin string) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            Game Session Open             ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Port : %-32d ║\n", port)
	fmt.Printf("║  PIN  : %-32s ║\n", pin)
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
	util.LogInfo("clients join with: %s", signalpkg.JoinURL(lanIP(), port, pin))
}

// lanIP returns this machine's first non-loopback IPv4 for the join hint.
func lanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// playerName falls back to a generated name so anonymous peers stay
// distinguishable in chat and join logs.
func playerName(raw string) string {
	name := strings.TrimSpace(raw)
	if name != "" {
		return name
	}
	return "Player-" + util.ShortID(uuid.NewString())
}

// normalizeJoinURL validates a join URL, tolerating a missing scheme and
// path.
func normalizeJoinURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty join URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid join URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid join URL scheme: %s", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/join"
	}
	return u.String(), nil
}

// askName prompts for a player name, generating one when left empty.
func askName() string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Player name (empty for a random one)").
		Show()

	pterm.Println()
	return playerName(raw)
}

// askSignaling prompts for the descriptor exchange method.
func askSignaling() config.Signaling {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Exchange — automatic handoff over WebSocket",
			"Manual   — copy & paste descriptor blobs",
		}).
		WithDefaultText("How should peers exchange session descriptors?").
		Show()

	pterm.Println()

	if strings.HasPrefix(choice, "Manual") {
		return config.SignalingManual
	}
	return config.SignalingExchange
}

// askURL prompts the user for a valid join URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Join URL (e.g. ws://192.168.1.10:4567/join?pin=1234)").
			Show()

		joinURL, err := normalizeJoinURL(raw)
		if err == nil {
			pterm.Println()
			return joinURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter the join URL shown by the host")
	}
}

// askBlob reads one pasted descriptor line from stdin.
func askBlob(scanner *bufio.Scanner, prompt string) (string, error) {
	pterm.Println(prompt)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text != "" {
			return text, nil
		}
	}
	return "", errors.New("input closed")
}
