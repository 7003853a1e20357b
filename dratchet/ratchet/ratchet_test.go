package ratchet

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/TheusHen/DRatchet/dratchet/crypto"
)

// fataler is what the helpers need from testing.TB and *rapid.T.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

type parties struct {
	aliceID, bobID crypto.KeyPair
	bobEph         crypto.KeyPair
	alice, bob     *State
}

func handshake(t fataler, opts Options) parties {
	t.Helper()
	p := parties{
		aliceID: genKeyPair(t),
		bobID:   genKeyPair(t),
		bobEph:  genKeyPair(t),
	}
	var (
		aliceEph [crypto.KeySize]byte
		err      error
	)
	p.alice, aliceEph, err = InitAsInitiator(p.aliceID, p.bobID.PublicKey, p.bobEph.PublicKey, opts)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	p.bob, err = InitAsResponder(p.bobID, p.bobEph, p.aliceID.PublicKey, aliceEph, opts)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return p
}

func mustEncrypt(t fataler, s *State, msg string) Envelope {
	t.Helper()
	env, err := s.Encrypt([]byte(msg), nil)
	if err != nil {
		t.Fatalf("Encrypt %q: %v", msg, err)
	}
	return env
}

func mustDecrypt(t fataler, s *State, env Envelope, want string) {
	t.Helper()
	pt, err := s.Decrypt(env, nil)
	if err != nil {
		t.Fatalf("Decrypt index %d: %v", env.Index, err)
	}
	if string(pt) != want {
		t.Fatalf("Decrypt index %d = %q, want %q", env.Index, pt, want)
	}
}

type snapshot struct {
	root         Key
	recv         Key
	hasRecv      bool
	recvCount    uint32
	remote       [crypto.KeySize]byte
	skipped      int
	localRatchet [crypto.KeySize]byte
}

func snap(s *State) snapshot {
	recv, ok := s.RecvChainKey()
	remote, _ := s.RemoteRatchetPublic()
	return snapshot{
		root:         s.RootKey(),
		recv:         recv,
		hasRecv:      ok,
		recvCount:    s.RecvCount(),
		remote:       remote,
		skipped:      s.SkippedCount(),
		localRatchet: s.LocalRatchetPublic(),
	}
}

func drawKeyPair(t *rapid.T, label string) crypto.KeyPair {
	seed := rapid.SliceOfN(rapid.Byte(), crypto.KeySize, crypto.KeySize).Draw(t, label)
	kp, err := crypto.GenerateX25519From(bytes.NewReader(seed))
	if err != nil {
		t.Fatalf("GenerateX25519From: %v", err)
	}
	return kp
}

func TestHandshakeAgreement(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		aliceID := drawKeyPair(t, "aliceID")
		aliceEph := drawKeyPair(t, "aliceEph")
		bobID := drawKeyPair(t, "bobID")
		bobEph := drawKeyPair(t, "bobEph")

		alice, err := initAsInitiator(aliceID, aliceEph, bobID.PublicKey, bobEph.PublicKey, Options{})
		require.NoError(t, err)
		bob, err := InitAsResponder(bobID, bobEph, aliceID.PublicKey, aliceEph.PublicKey, Options{})
		require.NoError(t, err)

		require.Equal(t, alice.RootKey(), bob.RootKey())
		send, ok := alice.SendChainKey()
		require.True(t, ok)
		recv, ok := bob.RecvChainKey()
		require.True(t, ok)
		require.Equal(t, send, recv)

		_, ok = alice.RecvChainKey()
		require.False(t, ok, "initiator has no receiving chain yet")
		_, ok = bob.SendChainKey()
		require.False(t, ok, "responder has no sending chain yet")
		require.Equal(t, aliceEph.PublicKey, alice.LocalRatchetPublic())
		require.Equal(t, bobEph.PublicKey, bob.LocalRatchetPublic())
	})
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := handshake(rt, Options{})
		// The initiator speaks first.
		turns := rapid.SliceOfN(rapid.Bool(), 1, 20).Draw(rt, "turns")
		turns[0] = true
		for i, aliceSends := range turns {
			msg := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(rt, fmt.Sprintf("msg%d", i))
			ad := rapid.SliceOfN(rapid.Byte(), 0, 16).Draw(rt, fmt.Sprintf("ad%d", i))
			from, to := p.alice, p.bob
			if !aliceSends {
				from, to = p.bob, p.alice
			}
			env, err := from.Encrypt(msg, ad)
			require.NoError(rt, err)
			pt, err := to.Decrypt(env, ad)
			require.NoError(rt, err)
			require.True(rt, bytes.Equal(msg, pt))
		}
	})
}

func TestOutOfOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := handshake(rt, Options{})
		n := rapid.IntRange(1, 30).Draw(rt, "n")
		envs := make([]Envelope, n)
		for i := range envs {
			envs[i] = mustEncrypt(rt, p.alice, fmt.Sprintf("m%d", i))
		}
		order := rapid.Permutation(envs).Draw(rt, "order")
		for _, env := range order {
			mustDecrypt(rt, p.bob, env, fmt.Sprintf("m%d", env.Index))
		}
		require.Equal(rt, 0, p.bob.SkippedCount())
	})
}

func TestConversation(t *testing.T) {
	p := handshake(t, Options{})
	alice, bob := p.alice, p.bob

	m1 := mustEncrypt(t, alice, "Hello Bob!")
	mustDecrypt(t, bob, m1, "Hello Bob!")

	bobRatchetBefore := bob.LocalRatchetPublic()
	r1 := mustEncrypt(t, bob, "Hi Alice!")
	require.NotEqual(t, bobRatchetBefore, bob.LocalRatchetPublic(), "first reply uses a fresh ratchet key")
	require.Equal(t, bob.LocalRatchetPublic(), r1.RatchetPublicKey)

	aliceRoot := alice.RootKey()
	mustDecrypt(t, alice, r1, "Hi Alice!")
	remote, ok := alice.RemoteRatchetPublic()
	require.True(t, ok)
	require.Equal(t, r1.RatchetPublicKey, remote)
	require.NotEqual(t, aliceRoot, alice.RootKey())
	require.Equal(t, alice.RootKey(), bob.RootKey())

	m2 := mustEncrypt(t, alice, "I'm great, thanks!")
	require.Equal(t, uint32(1), m2.Index, "sending chain continues across the receive step")
	mustDecrypt(t, bob, m2, "I'm great, thanks!")
}

func TestOutOfOrderThreeMessages(t *testing.T) {
	p := handshake(t, Options{})
	m1 := mustEncrypt(t, p.alice, "one")
	m2 := mustEncrypt(t, p.alice, "two")
	m3 := mustEncrypt(t, p.alice, "three")

	mustDecrypt(t, p.bob, m3, "three")
	require.Equal(t, 2, p.bob.SkippedCount())
	mustDecrypt(t, p.bob, m1, "one")
	mustDecrypt(t, p.bob, m2, "two")
	require.Equal(t, 0, p.bob.SkippedCount())
}

func TestDHRatchetOnDirectionSwitch(t *testing.T) {
	p := handshake(t, Options{})
	mustDecrypt(t, p.bob, mustEncrypt(t, p.alice, "ping"), "ping")

	steps := p.alice.RatchetSteps()
	_, hadRecv := p.alice.RecvChainKey()
	require.False(t, hadRecv)

	mustDecrypt(t, p.alice, mustEncrypt(t, p.bob, "pong"), "pong")
	require.Equal(t, steps+1, p.alice.RatchetSteps())
	recv, ok := p.alice.RecvChainKey()
	require.True(t, ok)
	bobSend, _ := p.bob.SendChainKey()
	require.Equal(t, bobSend, recv)

	// Further replies on the same key do not step again.
	mustDecrypt(t, p.alice, mustEncrypt(t, p.bob, "pong 2"), "pong 2")
	require.Equal(t, steps+1, p.alice.RatchetSteps())
}

func TestKeysEvolve(t *testing.T) {
	p := handshake(t, Options{})
	send0, _ := p.alice.SendChainKey()
	env := mustEncrypt(t, p.alice, "x")
	send1, _ := p.alice.SendChainKey()
	require.NotEqual(t, send0, send1)

	next, mk := DeriveChain(send0)
	require.Equal(t, next, send1)
	require.NotEqual(t, mk, send1)

	// The message key is derivable only from the chain key that is gone.
	aead, err := crypto.NewAEAD(crypto.DefaultSuite, mk[:])
	require.NoError(t, err)
	pt, err := aead.Open(env.Ciphertext, env.Header())
	require.NoError(t, err)
	require.Equal(t, "x", string(pt))
}

func TestExcessiveSkipLeavesStateUntouched(t *testing.T) {
	p := handshake(t, Options{})
	var far Envelope
	for i := 0; i <= DefaultMaxSkip+1; i++ {
		far = mustEncrypt(t, p.alice, "m")
	}
	require.Equal(t, uint32(DefaultMaxSkip+1), far.Index)

	before := snap(p.bob)
	_, err := p.bob.Decrypt(far, nil)
	require.ErrorIs(t, err, ErrExcessiveSkip)
	require.False(t, Advanced(err))
	require.Equal(t, before, snap(p.bob))
}

func TestSkipAtLimitAllowed(t *testing.T) {
	p := handshake(t, Options{MaxSkip: 4})
	var last Envelope
	for i := 0; i <= 4; i++ {
		last = mustEncrypt(t, p.alice, fmt.Sprint(i))
	}
	mustDecrypt(t, p.bob, last, "4")
	require.Equal(t, 4, p.bob.SkippedCount())
}

func TestExcessiveSkipOnNewChain(t *testing.T) {
	p := handshake(t, Options{MaxSkip: 3})
	mustDecrypt(t, p.bob, mustEncrypt(t, p.alice, "hi"), "hi")

	var far Envelope
	for i := 0; i < 5; i++ {
		far = mustEncrypt(t, p.bob, "r")
	}
	before := snap(p.alice)
	_, err := p.alice.Decrypt(far, nil)
	require.ErrorIs(t, err, ErrExcessiveSkip)
	require.Equal(t, before, snap(p.alice))
}

func TestInvalidEnvelope(t *testing.T) {
	p := handshake(t, Options{})
	good := mustEncrypt(t, p.alice, "hello")
	before := snap(p.bob)

	cases := map[string]Envelope{
		"zero ratchet key": {Index: good.Index, Ciphertext: good.Ciphertext},
		"short ciphertext": {RatchetPublicKey: good.RatchetPublicKey, Index: good.Index, Ciphertext: good.Ciphertext[:10]},
		"index overflow":   {RatchetPublicKey: good.RatchetPublicKey, Index: 1<<32 - 1, Ciphertext: good.Ciphertext},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.bob.Decrypt(env, nil)
			require.ErrorIs(t, err, ErrInvalidEnvelope)
			require.Equal(t, KindInvalidEnvelope, KindOf(err))
			require.Equal(t, before, snap(p.bob))
		})
	}

	mustDecrypt(t, p.bob, good, "hello")
}

func TestTamperedCiphertextAdvancesChain(t *testing.T) {
	p := handshake(t, Options{})
	m0 := mustEncrypt(t, p.alice, "first")
	m1 := mustEncrypt(t, p.alice, "second")

	m0.Ciphertext[len(m0.Ciphertext)-1] ^= 0xff
	_, err := p.bob.Decrypt(m0, nil)
	require.ErrorIs(t, err, ErrDecryption)
	require.True(t, Advanced(err))
	require.Equal(t, uint32(1), p.bob.RecvCount())

	// The session survives; later messages still open.
	mustDecrypt(t, p.bob, m1, "second")
}

func TestAssociatedDataMismatch(t *testing.T) {
	p := handshake(t, Options{})
	env, err := p.alice.Encrypt([]byte("bound"), []byte("ad-1"))
	require.NoError(t, err)

	_, err = p.bob.Decrypt(env, []byte("ad-2"))
	require.ErrorIs(t, err, ErrDecryption)
}

func TestHeaderIsAuthenticated(t *testing.T) {
	p := handshake(t, Options{})
	m0 := mustEncrypt(t, p.alice, "a")
	m1 := mustEncrypt(t, p.alice, "b")

	// Present m1's ciphertext under index 0.
	forged := Envelope{RatchetPublicKey: m1.RatchetPublicKey, Index: 0, Ciphertext: m1.Ciphertext}
	_, err := p.bob.Decrypt(forged, nil)
	require.ErrorIs(t, err, ErrDecryption)

	// Index 0 is consumed; m1 still decrypts.
	mustDecrypt(t, p.bob, m1, "b")
	_, err = p.bob.Decrypt(m0, nil)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDuplicateRejected(t *testing.T) {
	p := handshake(t, Options{})
	env := mustEncrypt(t, p.alice, "once")
	mustDecrypt(t, p.bob, env, "once")

	before := snap(p.bob)
	_, err := p.bob.Decrypt(env, nil)
	require.ErrorIs(t, err, ErrDecryption)
	require.False(t, Advanced(err))
	require.Equal(t, before, snap(p.bob))
}

func TestSkippedKeyKeptOnFailedAttempt(t *testing.T) {
	p := handshake(t, Options{})
	m0 := mustEncrypt(t, p.alice, "zero")
	m1 := mustEncrypt(t, p.alice, "one")
	mustDecrypt(t, p.bob, m1, "one")
	require.Equal(t, 1, p.bob.SkippedCount())

	bad := m0
	bad.Ciphertext = append([]byte(nil), m0.Ciphertext...)
	bad.Ciphertext[0] ^= 1
	_, err := p.bob.Decrypt(bad, nil)
	require.ErrorIs(t, err, ErrDecryption)
	require.False(t, Advanced(err))
	require.Equal(t, 1, p.bob.SkippedCount())

	mustDecrypt(t, p.bob, m0, "zero")
}

func TestForgedRatchetKeyLeavesStateUntouched(t *testing.T) {
	p := handshake(t, Options{})
	mustDecrypt(t, p.bob, mustEncrypt(t, p.alice, "hi"), "hi")
	var lost []Envelope
	for i := 0; i < 3; i++ {
		lost = append(lost, mustEncrypt(t, p.bob, fmt.Sprintf("lost %d", i)))
	}
	mustDecrypt(t, p.alice, mustEncrypt(t, p.bob, "r3"), "r3")
	require.Equal(t, 3, p.alice.SkippedCount())

	before := snap(p.alice)
	steps := p.alice.RatchetSteps()
	stranger := genKeyPair(t)
	for _, index := range []uint32{0, 5} {
		forged := Envelope{
			RatchetPublicKey: stranger.PublicKey,
			Index:            index,
			Ciphertext:       bytes.Repeat([]byte{1}, 64),
		}
		_, err := p.alice.Decrypt(forged, nil)
		require.ErrorIs(t, err, ErrDecryption)
		require.False(t, Advanced(err))
		require.Equal(t, before, snap(p.alice))
		require.Equal(t, steps, p.alice.RatchetSteps())
	}

	// The genuine chain and its stored keys survive.
	mustDecrypt(t, p.alice, mustEncrypt(t, p.bob, "r4"), "r4")
	for i, env := range lost {
		mustDecrypt(t, p.alice, env, fmt.Sprintf("lost %d", i))
	}
	require.Equal(t, 0, p.alice.SkippedCount())
}

func TestTamperedFirstReplyDoesNotStep(t *testing.T) {
	p := handshake(t, Options{})
	mustDecrypt(t, p.bob, mustEncrypt(t, p.alice, "hi"), "hi")
	m0 := mustEncrypt(t, p.bob, "zero")
	m1 := mustEncrypt(t, p.bob, "one")

	before := snap(p.alice)
	bad := m1
	bad.Ciphertext = append([]byte(nil), m1.Ciphertext...)
	bad.Ciphertext[len(bad.Ciphertext)-1] ^= 0xff
	_, err := p.alice.Decrypt(bad, nil)
	require.ErrorIs(t, err, ErrDecryption)
	require.False(t, Advanced(err))
	require.Equal(t, before, snap(p.alice))

	mustDecrypt(t, p.alice, m1, "one")
	require.Equal(t, 1, p.alice.SkippedCount())
	mustDecrypt(t, p.alice, m0, "zero")
}

func TestRetiredRatchetKeyRejected(t *testing.T) {
	p := handshake(t, Options{})
	mustDecrypt(t, p.bob, mustEncrypt(t, p.alice, "hi"), "hi")
	mustDecrypt(t, p.alice, mustEncrypt(t, p.bob, "yo"), "yo")

	before := snap(p.alice)
	stale := Envelope{
		RatchetPublicKey: p.bobEph.PublicKey,
		Index:            0,
		Ciphertext:       bytes.Repeat([]byte{2}, 64),
	}
	_, err := p.alice.Decrypt(stale, nil)
	require.ErrorIs(t, err, ErrDecryption)
	require.False(t, Advanced(err))
	require.Equal(t, before, snap(p.alice))
}

func TestSkippedKeysExpire(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	opts := Options{MaxKeyAge: time.Hour, Now: func() time.Time { return now }}
	p := handshake(t, opts)

	m0 := mustEncrypt(t, p.alice, "old")
	m1 := mustEncrypt(t, p.alice, "new")
	mustDecrypt(t, p.bob, m1, "new")
	require.Equal(t, 1, p.bob.SkippedCount())

	now = now.Add(2 * time.Hour)
	_, err := p.bob.Decrypt(m0, nil)
	require.ErrorIs(t, err, ErrDecryption)
	require.Equal(t, 1, p.bob.Prune())
	require.Equal(t, 0, p.bob.SkippedCount())
}

func TestStoredKeysBounded(t *testing.T) {
	p := handshake(t, Options{MaxSkip: 50, MaxStoredKeys: 10})
	var last Envelope
	envs := make([]Envelope, 0, 21)
	for i := 0; i <= 20; i++ {
		last = mustEncrypt(t, p.alice, fmt.Sprint(i))
		envs = append(envs, last)
	}
	mustDecrypt(t, p.bob, last, "20")
	require.Equal(t, 10, p.bob.SkippedCount())

	// The oldest were evicted; the newest skipped keys remain.
	_, err := p.bob.Decrypt(envs[0], nil)
	require.ErrorIs(t, err, ErrDecryption)
	mustDecrypt(t, p.bob, envs[19], "19")
}

func TestUninitialized(t *testing.T) {
	var s State
	_, err := s.Encrypt([]byte("x"), nil)
	require.ErrorIs(t, err, ErrUninitialized)
	_, err = s.Decrypt(Envelope{}, nil)
	require.ErrorIs(t, err, ErrUninitialized)
}

func TestDestroyWipes(t *testing.T) {
	p := handshake(t, Options{})
	mustEncrypt(t, p.alice, "a")
	p.alice.Destroy()

	require.False(t, p.alice.Initialized())
	require.True(t, p.alice.RootKey().IsZero())
	send, ok := p.alice.SendChainKey()
	require.False(t, ok)
	require.True(t, send.IsZero())
	require.Equal(t, [crypto.KeySize]byte{}, p.alice.local.PrivateKey)

	_, err := p.alice.Encrypt([]byte("b"), nil)
	require.True(t, errors.Is(err, ErrUninitialized))
}

func TestCipherSuites(t *testing.T) {
	for _, suite := range []crypto.Suite{crypto.SuiteChaCha20Poly1305, crypto.SuiteXChaCha20Poly1305, crypto.SuiteAES256GCMSIV} {
		t.Run(suite.String(), func(t *testing.T) {
			p := handshake(t, Options{Suite: suite})
			mustDecrypt(t, p.bob, mustEncrypt(t, p.alice, "suite"), "suite")
			mustDecrypt(t, p.alice, mustEncrypt(t, p.bob, "back"), "back")
		})
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	d := Options{}.WithDefaults()
	require.Equal(t, crypto.DefaultSuite, d.Suite)
	require.Equal(t, uint32(DefaultMaxSkip), d.MaxSkip)
	require.Equal(t, DefaultMaxStoredKeys, d.MaxStoredKeys)
	require.Equal(t, DefaultMaxKeyAge, d.MaxKeyAge)
	require.NotNil(t, d.Now)

	set := Options{Suite: crypto.SuiteAES256GCMSIV, MaxSkip: 5, MaxStoredKeys: 7, MaxKeyAge: -1}.WithDefaults()
	require.Equal(t, crypto.SuiteAES256GCMSIV, set.Suite)
	require.Equal(t, uint32(5), set.MaxSkip)
	require.Equal(t, 7, set.MaxStoredKeys)
	require.Equal(t, time.Duration(-1), set.MaxKeyAge)

	p := handshake(t, Options{})
	require.Equal(t, d.Suite, p.alice.Options().Suite)
}

func TestUnknownSuite(t *testing.T) {
	id, eph := genKeyPair(t), genKeyPair(t)
	_, _, err := InitAsInitiator(id, eph.PublicKey, eph.PublicKey, Options{Suite: 99})
	require.ErrorIs(t, err, crypto.ErrUnknownSuite)
}

func TestInitRejectsInvalidPeerKey(t *testing.T) {
	id, eph := genKeyPair(t), genKeyPair(t)
	_, _, err := InitAsInitiator(id, [crypto.KeySize]byte{}, eph.PublicKey, Options{})
	require.ErrorIs(t, err, crypto.ErrInvalidPublicKey)
}

func BenchmarkEncrypt(b *testing.B) {
	p := handshake(b, Options{})
	msg := make([]byte, 1024)
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.alice.Encrypt(msg, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRoundTrip(b *testing.B) {
	p := handshake(b, Options{})
	msg := make([]byte, 1024)
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env, err := p.alice.Encrypt(msg, nil)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := p.bob.Decrypt(env, nil); err != nil {
			b.Fatal(err)
		}
	}
}
