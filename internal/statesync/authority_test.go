package statesync_test

import (
	"testing"

	"github.com/gridfall/netplay/internal/protocol"
	"github.com/gridfall/netplay/internal/statesync"
	"github.com/gridfall/netplay/internal/world"
)

// joinAs runs the join handshake for a peer and returns its link.
func joinAs(t *testing.T, m *statesync.Manager, peerID, name string) *mockLink {
	t.Helper()
	link := attachOpen(m, peerID)
	link.deliver(frame(t, protocol.JoinPayload{Name: name}))
	return link
}

// TestClientIgnoresOwnEcho verifies an update naming the local player never
// overwrites local simulation.
func TestClientIgnoresOwnEcho(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(false, "ada", store)
	defer m.Close()
	m.Start()
	link := attachOpen(m, "host")

	link.deliver(frame(t, protocol.FullStatePayload{HostID: "h", PlayerID: "5"}))
	store.Spawn(statesync.Entity{ID: "me", OwnerID: "5", Position: [3]float64{1, 1, 1}})

	link.deliver(frame(t, protocol.EntityUpdatePayload{
		EntityID:        "me",
		NetworkPlayerID: "5",
		Position:        [3]float64{9, 9, 9},
	}))

	got, _ := store.Get("me")
	if got.Position != [3]float64{1, 1, 1} {
		t.Errorf("own echo was applied: %v", got.Position)
	}
}

// TestHostReattributesClaimedOwner verifies the host trusts the sending
// peer, not the payload, when spawning an unknown entity.
func TestHostReattributesClaimedOwner(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(true, "hosty", store)
	defer m.Close()
	m.Start()

	a := joinAs(t, m, "peer-a", "ada") // minted as 2

	a.deliver(frame(t, protocol.EntityUpdatePayload{
		EntityID:        "sneaky",
		NetworkPlayerID: "3",
		Position:        [3]float64{1, 2, 3},
	}))

	got, ok := store.Get("sneaky")
	if !ok {
		t.Fatal("entity was not self-healed")
	}
	if got.OwnerID != "2" {
		t.Errorf("owner mismatch: got %s, want sender's id 2", got.OwnerID)
	}
}

// TestHostProtectsOwnedEntity verifies one player cannot move another
// player's entity.
func TestHostProtectsOwnedEntity(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(true, "hosty", store)
	defer m.Close()
	m.Start()

	joinAs(t, m, "peer-a", "ada")      // 2
	b := joinAs(t, m, "peer-b", "bob") // 3

	store.Spawn(statesync.Entity{ID: "adas", OwnerID: "2", Position: [3]float64{1, 1, 1}})

	b.deliver(frame(t, protocol.EntityUpdatePayload{
		EntityID:        "adas",
		NetworkPlayerID: "2",
		Position:        [3]float64{9, 9, 9},
	}))

	got, _ := store.Get("adas")
	if got.Position != [3]float64{1, 1, 1} {
		t.Errorf("foreign update was applied: %v", got.Position)
	}
}

// TestHostDropsUnmappedPeer verifies updates from a peer that never joined
// are discarded entirely.
func TestHostDropsUnmappedPeer(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(true, "hosty", store)
	defer m.Close()
	m.Start()

	stranger := attachOpen(m, "peer-x")
	stranger.deliver(frame(t, protocol.EntityUpdatePayload{EntityID: "e1"}))

	if store.Count() != 0 {
		t.Errorf("unmapped peer's update was applied: %d entities", store.Count())
	}
}

// TestClientSelfHealsUnknownEntity verifies a client spawns entities it has
// never seen, trusting the relayed owner.
func TestClientSelfHealsUnknownEntity(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(false, "ada", store)
	defer m.Close()
	m.Start()
	link := attachOpen(m, "host")
	link.deliver(frame(t, protocol.FullStatePayload{HostID: "h", PlayerID: "5"}))

	link.deliver(frame(t, protocol.EntityUpdatePayload{
		EntityID:        "new-one",
		NetworkPlayerID: "7",
		Position:        [3]float64{2, 0, 2},
		EntityType:      protocol.EntityTypePlayer,
		ModelID:         "rogue",
	}))

	got, ok := store.Get("new-one")
	if !ok {
		t.Fatal("unknown entity was not spawned")
	}
	if got.OwnerID != "7" || got.ModelID != "rogue" {
		t.Errorf("spawned entity mismatch: %+v", got)
	}
}

// TestBatchAppliesInOrder verifies a merged batch lands entity by entity,
// later entries winning.
func TestBatchAppliesInOrder(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(false, "ada", store)
	defer m.Close()
	m.Start()
	link := attachOpen(m, "host")
	link.deliver(frame(t, protocol.FullStatePayload{HostID: "h", PlayerID: "5"}))

	link.deliver(frame(t, protocol.EntityBatchPayload{
		Entities: []protocol.EntityUpdatePayload{
			{EntityID: "e1", NetworkPlayerID: "2", Position: [3]float64{1, 0, 0}},
			{EntityID: "e2", NetworkPlayerID: "2", Position: [3]float64{2, 0, 0}},
			{EntityID: "e1", NetworkPlayerID: "2", Position: [3]float64{3, 0, 0}},
		},
	}))

	e1, _ := store.Get("e1")
	if e1.Position != [3]float64{3, 0, 0} {
		t.Errorf("later batch entry did not win: %v", e1.Position)
	}
	if _, ok := store.Get("e2"); !ok {
		t.Error("batch entry e2 missing")
	}
}

// TestHostHandlesGracefulLeave verifies a leave retires the identity and the
// player's entities, exactly once.
func TestHostHandlesGracefulLeave(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(true, "hosty", store)
	defer m.Close()

	var leaves []string
	m.OnPlayerLeave(func(playerID, name string) {
		leaves = append(leaves, playerID+"/"+name)
	})
	m.Start()

	a := joinAs(t, m, "peer-a", "ada") // 2
	a.deliver(frame(t, protocol.EntityUpdatePayload{EntityID: "adas", NetworkPlayerID: "2"}))

	leave := frame(t, protocol.LeavePayload{PeerID: "whatever", PlayerID: "2", Name: "ada"})
	a.deliver(leave)
	a.deliver(leave) // duplicate is ignored

	if _, ok := store.Get("adas"); ok {
		t.Error("leaver's entity survived")
	}
	if len(leaves) != 1 || leaves[0] != "2/ada" {
		t.Errorf("leave callbacks mismatch: %v", leaves)
	}
}

// TestLeaveCannotEvictOthers verifies the host resolves the leaver from the
// sending peer, ignoring whatever the payload claims.
func TestLeaveCannotEvictOthers(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(true, "hosty", store)
	defer m.Close()
	m.Start()

	joinAs(t, m, "peer-a", "ada")      // 2
	b := joinAs(t, m, "peer-b", "bob") // 3
	store.Spawn(statesync.Entity{ID: "adas", OwnerID: "2"})

	// bob claims ada is leaving
	b.deliver(frame(t, protocol.LeavePayload{PlayerID: "2", Name: "ada"}))

	if _, ok := store.Get("adas"); !ok {
		t.Error("ada's entity removed by bob's leave")
	}
	// It was bob's own identity that got retired, so his updates no longer
	// land.
	b.deliver(frame(t, protocol.EntityUpdatePayload{EntityID: "bobs"}))
	if store.Count() != 1 {
		t.Errorf("entity count mismatch: got %d, want 1", store.Count())
	}
}

// TestHostAnnouncesDroppedPeer verifies an ungraceful loss produces the
// leave the peer could not send: identity retired, entities swept, and the
// remaining peers told.
func TestHostAnnouncesDroppedPeer(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(true, "hosty", store)
	defer m.Close()

	var leaves []string
	m.OnPlayerLeave(func(playerID, name string) {
		leaves = append(leaves, playerID+"/"+name)
	})
	m.Start()

	a := joinAs(t, m, "peer-a", "ada") // 2
	b := joinAs(t, m, "peer-b", "bob") // 3

	a.deliver(frame(t, protocol.EntityUpdatePayload{EntityID: "adas", NetworkPlayerID: "2"}))

	a.drop("transport failed")

	if _, ok := store.Get("adas"); ok {
		t.Error("dropped peer's entity survived")
	}
	if len(leaves) != 1 || leaves[0] != "2/ada" {
		t.Errorf("leave callbacks mismatch: %v", leaves)
	}

	sent := b.framesOfType(t, protocol.TypePlayerLeave)
	if len(sent) != 1 {
		t.Fatalf("synthetic leave count mismatch: got %d, want 1", len(sent))
	}
	p := sent[0].Payload.(protocol.LeavePayload)
	if p.PlayerID != "2" || p.Name != "ada" {
		t.Errorf("synthetic leave mismatch: %+v", p)
	}
}

// TestClientRemovesLeaverEntities verifies a client cleans up after a
// relayed leave.
func TestClientRemovesLeaverEntities(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(false, "ada", store)
	defer m.Close()

	var leaves []string
	m.OnPlayerLeave(func(playerID, name string) {
		leaves = append(leaves, playerID+"/"+name)
	})
	m.Start()
	link := attachOpen(m, "host")

	link.deliver(frame(t, protocol.FullStatePayload{
		HostID:   "h",
		PlayerID: "5",
		Entities: []protocol.EntityUpdatePayload{
			{EntityID: "bobs", NetworkPlayerID: "3"},
			{EntityID: "bobs-pet", NetworkPlayerID: "3"},
		},
	}))

	link.deliver(frame(t, protocol.LeavePayload{PlayerID: "3", Name: "bob"}))

	if store.Count() != 0 {
		t.Errorf("leaver's entities survived: %d", store.Count())
	}
	if len(leaves) != 1 || leaves[0] != "3/bob" {
		t.Errorf("leave callbacks mismatch: %v", leaves)
	}
}

// TestHostIgnoresSnapshot verifies nothing can overwrite the authoritative
// world from outside.
func TestHostIgnoresSnapshot(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(true, "hosty", store)
	defer m.Close()
	m.Start()
	store.Spawn(statesync.Entity{ID: "tree"})

	a := joinAs(t, m, "peer-a", "ada")
	a.deliver(frame(t, protocol.FullStatePayload{
		HostID:   "fake",
		PlayerID: "1",
		Entities: []protocol.EntityUpdatePayload{{EntityID: "injected"}},
	}))

	if _, ok := store.Get("injected"); ok {
		t.Error("host applied a foreign snapshot")
	}
	if m.PlayerID() != "1" || m.HostID() != m.PeerID() {
		t.Errorf("host identity changed: player=%s host=%s", m.PlayerID(), m.HostID())
	}
}

// TestChatReachesCallback verifies chat lines surface with the sender's
// name and the envelope's send time.
func TestChatReachesCallback(t *testing.T) {
	m := statesync.NewManager(true, "hosty", world.NewStore())
	defer m.Close()

	var got []string
	var stamps []int64
	m.OnChatMessage(func(name, text string, timestamp int64) {
		got = append(got, name+": "+text)
		stamps = append(stamps, timestamp)
	})
	m.Start()

	a := joinAs(t, m, "peer-a", "ada")

	chat := protocol.New(protocol.ChatPayload{Name: "ada", Text: "glhf"})
	chat.Timestamp = 1700000000123
	raw, err := protocol.Encode(chat)
	if err != nil {
		t.Fatalf("encode chat: %v", err)
	}
	a.deliver(raw)

	if len(got) != 1 || got[0] != "ada: glhf" {
		t.Errorf("chat callback mismatch: %v", got)
	}
	if len(stamps) != 1 || stamps[0] != 1700000000123 {
		t.Errorf("chat timestamp mismatch: %v", stamps)
	}
}

// TestClientSweepsWorldOnHostLoss verifies losing the host link degrades to
// a leave: the host's player is reported gone and every remote entity is
// removed, while the local player's survive.
func TestClientSweepsWorldOnHostLoss(t *testing.T) {
	store := world.NewStore()
	m := statesync.NewManager(false, "ada", store)
	defer m.Close()

	var leaves []string
	m.OnPlayerLeave(func(playerID, name string) {
		leaves = append(leaves, playerID)
	})
	m.Start()
	link := attachOpen(m, "host")

	link.deliver(frame(t, protocol.FullStatePayload{
		HostID:   "h",
		PlayerID: "5",
		Entities: []protocol.EntityUpdatePayload{
			{EntityID: "host-player", NetworkPlayerID: "1", EntityType: protocol.EntityTypePlayer},
			{EntityID: "tree", EntityType: protocol.EntityTypeEntity},
		},
	}))
	store.Spawn(statesync.Entity{ID: "mine", OwnerID: "5", Type: protocol.EntityTypePlayer})

	link.drop("transport failed")

	if len(leaves) != 1 || leaves[0] != statesync.HostNetworkID {
		t.Errorf("leave callbacks mismatch: %v", leaves)
	}
	if _, ok := store.Get("host-player"); ok {
		t.Error("host's entity survived the link loss")
	}
	if _, ok := store.Get("tree"); ok {
		t.Error("world entity survived the link loss")
	}
	if _, ok := store.Get("mine"); !ok {
		t.Error("locally owned entity removed on link loss")
	}
}

// TestInputReachesCatchAll verifies inputs and actions pass through to the
// generic message callback untouched.
func TestInputReachesCatchAll(t *testing.T) {
	m := statesync.NewManager(true, "hosty", world.NewStore())
	defer m.Close()

	var got []protocol.Type
	m.OnMessage(func(from string, msg *protocol.Message) { got = append(got, msg.Type) })
	m.Start()

	a := joinAs(t, m, "peer-a", "ada")
	a.deliver(frame(t, protocol.InputPayload{PlayerID: "2", Move: [2]float64{0, 1}}))
	a.deliver(frame(t, protocol.ActionPayload{PlayerID: "2", Name: "jump"}))

	if len(got) != 2 || got[0] != protocol.TypePlayerInput || got[1] != protocol.TypePlayerAction {
		t.Errorf("catch-all mismatch: %v", got)
	}
}
