package feeder

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/docfeed/chunk"
	"github.com/hazyhaar/docfeed/docpipe"
	"github.com/hazyhaar/docfeed/prompt"
	"github.com/hazyhaar/docfeed/settings"
)

var fastTiming = Timing{
	PollInterval:     time.Millisecond,
	SubmitDelay:      time.Millisecond,
	RecoveryCooldown: 5 * time.Millisecond,
}

type recordingSink struct {
	mu        sync.Mutex
	injected  []string
	pending   string
	err       error
	onTrigger func(n int)
}

func (s *recordingSink) Inject(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.pending = text
	return nil
}

func (s *recordingSink) Trigger(_ context.Context) error {
	s.mu.Lock()
	s.injected = append(s.injected, s.pending)
	n := len(s.injected)
	hook := s.onTrigger
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (s *recordingSink) submissions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.injected...)
}

type recordingExtractor struct {
	pipe      *docpipe.Pipeline
	mu        sync.Mutex
	docs      []docpipe.Document
	onExtract func(docpipe.Document)
}

func (e *recordingExtractor) Extract(ctx context.Context, doc docpipe.Document, f docpipe.ArchiveFilter) (string, error) {
	e.mu.Lock()
	e.docs = append(e.docs, doc)
	hook := e.onExtract
	e.mu.Unlock()
	if hook != nil {
		hook(doc)
	}
	return e.pipe.Extract(ctx, doc, f)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) waitFor(t *testing.T, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range r.snapshot() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return Event{}
}

type harness struct {
	ctrl      *Controller
	settings  *settings.Manager
	sink      *recordingSink
	extractor *recordingExtractor
	events    *eventRecorder
}

func newHarness(t *testing.T, budget int, probe ReadinessProbe) *harness {
	t.Helper()
	mgr := settings.NewManager(settings.NewMemoryStore(), nil)
	if err := mgr.SetChunkSize(context.Background(), budget); err != nil {
		t.Fatal(err)
	}
	h := &harness{
		settings:  mgr,
		sink:      &recordingSink{},
		extractor: &recordingExtractor{pipe: docpipe.New(docpipe.Config{})},
		events:    &eventRecorder{},
	}
	h.ctrl = New(Config{
		Extractor: h.extractor,
		Settings:  mgr,
		Probe:     probe,
		Sink:      h.sink,
		Timing:    fastTiming,
		Observer:  h.events.observe,
	})
	return h
}

func textDoc(name, text string) docpipe.Document {
	return docpipe.Document{Name: name, Data: []byte(text), Format: docpipe.FormatText}
}

func neverReady(context.Context) (bool, error) { return false, nil }

type runResult struct {
	res Result
	err error
}

func runAsync(ctrl *Controller, doc docpipe.Document) <-chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		res, err := ctrl.Run(context.Background(), doc)
		ch <- runResult{res, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return")
		return runResult{}
	}
}

func TestRun_SingleChunk(t *testing.T) {
	h := newHarness(t, 1000, AlwaysReady)
	res, err := h.ctrl.Run(context.Background(), textDoc("notes.txt", "A\n\nB\n\nC"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StateCompleted || res.Delivered != 1 {
		t.Fatalf("result = %+v", res)
	}
	subs := h.sink.submissions()
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	if !strings.HasPrefix(subs[0], strings.TrimSpace(prompt.DefaultSingle)+"\n\n") {
		t.Errorf("single-file template missing: %q", subs[0])
	}
	if !strings.Contains(subs[0], "Part 1 of 1:") {
		t.Errorf("part line missing: %q", subs[0])
	}

	p := h.ctrl.Progress()
	if p.State != StateIdle || p.Submitting || p.LastOutcome != StateCompleted {
		t.Errorf("progress after completion = %+v", p)
	}
}

func TestRun_UsesUnsavedRuntimeSettings(t *testing.T) {
	h := newHarness(t, 1000, AlwaysReady)
	tpl := prompt.DefaultTemplates()
	tpl.Single = "CUSTOM SINGLE"
	h.settings.SetTemplates(tpl)
	h.settings.SetLists(nil, []string{".md"})

	zipped := zipBytes(t, map[string]string{"keep.txt": "kept", "drop.md": "dropped"})
	doc := docpipe.Document{Name: "bundle.zip", Data: zipped, Format: docpipe.FormatArchive}
	if _, err := h.ctrl.Run(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	subs := h.sink.submissions()
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	if !strings.HasPrefix(subs[0], "CUSTOM SINGLE\n\n") {
		t.Errorf("runtime template not used: %q", subs[0])
	}
	if !strings.Contains(subs[0], "kept") || strings.Contains(subs[0], "dropped") {
		t.Errorf("runtime ignore-list not used: %q", subs[0])
	}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRun_ThreeChunkPrefixes(t *testing.T) {
	h := newHarness(t, 60, AlwaysReady)
	paras := []string{strings.Repeat("a", 50), strings.Repeat("b", 50), strings.Repeat("c", 50)}
	res, err := h.ctrl.Run(context.Background(), textDoc("doc.txt", strings.Join(paras, "\n\n")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Delivered != 3 {
		t.Fatalf("delivered %d, want 3", res.Delivered)
	}

	tpl := prompt.DefaultTemplates()
	subs := h.sink.submissions()
	wantPrefixes := []string{
		prompt.Prefix(1, 3, false, tpl),
		prompt.Prefix(2, 3, false, tpl),
		prompt.Prefix(3, 3, true, tpl),
	}
	if wantPrefixes[0] != strings.TrimSpace(tpl.Base)+"\n"+strings.TrimSpace(tpl.Multi) {
		t.Fatalf("first prefix = %q", wantPrefixes[0])
	}
	if wantPrefixes[1] != strings.TrimSpace(tpl.Multi)+"\n"+strings.TrimSpace(tpl.Base) {
		t.Fatalf("middle prefix = %q", wantPrefixes[1])
	}
	for i, sub := range subs {
		if !strings.HasPrefix(sub, wantPrefixes[i]+"\n\n") {
			t.Errorf("submission %d has wrong prefix: %q", i+1, sub)
		}
		if !strings.Contains(sub, "\""+paras[i]+"\"") {
			t.Errorf("submission %d misses its paragraph", i+1)
		}
	}
}

func TestRun_CursorMonotonic(t *testing.T) {
	h := newHarness(t, 5, AlwaysReady)
	if _, err := h.ctrl.Run(context.Background(), textDoc("d", "p1\n\np2\n\np3\n\np4\n\np5")); err != nil {
		t.Fatal(err)
	}

	var order []string
	next := 1
	for _, ev := range h.events.snapshot() {
		switch ev.Kind {
		case EventSubmit:
			order = append(order, "submit")
			if ev.Part != next {
				t.Fatalf("submitted part %d, want %d", ev.Part, next)
			}
		case EventReady:
			order = append(order, "ready")
			if ev.Part != next {
				t.Fatalf("ready for part %d, want %d", ev.Part, next)
			}
			next++
		}
	}
	if next != 6 {
		t.Fatalf("saw %d readiness signals, want 5", next-1)
	}
	for i := 0; i < len(order); i += 2 {
		if order[i] != "submit" || order[i+1] != "ready" {
			t.Fatalf("submissions overlap: %v", order)
		}
	}
}

func TestRun_InterruptionRecovery(t *testing.T) {
	var blocked atomic.Bool
	h := newHarness(t, 5, func(context.Context) (bool, error) { return !blocked.Load(), nil })
	h.sink.onTrigger = func(n int) {
		if n == 2 {
			blocked.Store(true)
		}
	}
	h.extractor.onExtract = func(doc docpipe.Document) {
		if strings.HasPrefix(doc.Name, RemainingPrefix) {
			blocked.Store(false)
		}
	}

	done := runAsync(h.ctrl, textDoc("doc.txt", "aaaa\n\nbbbb\n\ncccc\n\ndddd"))

	h.events.waitFor(t, "waiting on part 2", func(ev Event) bool {
		return ev.Kind == EventState && ev.State == StateWaiting && ev.Part == 2
	})
	if got := h.ctrl.Cursor(); got != 1 {
		t.Fatalf("cursor = %d, want 1", got)
	}
	if p := h.ctrl.Progress(); p.TotalParts != 4 || p.CurrentPart != 2 {
		t.Fatalf("progress = %+v", p)
	}
	h.ctrl.OnInterrupted(CurrentCursor)

	r := await(t, done)
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.res.Status != StateCompleted || r.res.Recoveries != 1 || r.res.Delivered != 5 {
		t.Fatalf("result = %+v", r.res)
	}

	h.extractor.mu.Lock()
	docs := append([]docpipe.Document(nil), h.extractor.docs...)
	h.extractor.mu.Unlock()
	if len(docs) != 2 {
		t.Fatalf("extracted %d documents, want 2", len(docs))
	}
	rem := docs[1]
	if rem.Name != "remaining_doc.txt" || rem.Format != docpipe.FormatText {
		t.Errorf("recovery document = %s (%s)", rem.Name, rem.Format)
	}
	if string(rem.Data) != "bbbb\n\ncccc\n\ndddd" {
		t.Errorf("recovery text = %q", rem.Data)
	}

	subs := h.sink.submissions()
	if len(subs) != 5 {
		t.Fatalf("got %d submissions, want 5", len(subs))
	}
	if !strings.Contains(subs[2], "Filename: remaining_doc.txt") || !strings.Contains(subs[2], "Part 1 of 3:") || !strings.Contains(subs[2], "\"bbbb\"") {
		t.Errorf("first recovery submission = %q", subs[2])
	}

	var sawRecovery, reExtracted bool
	for _, ev := range h.events.snapshot() {
		if ev.Kind == EventRecovery {
			sawRecovery = true
		}
		if sawRecovery && ev.Kind == EventState && ev.State == StateExtracting && ev.Document == "remaining_doc.txt" {
			reExtracted = true
		}
	}
	if !reExtracted {
		t.Error("recovery document never re-entered extraction")
	}
}

func TestRun_StopWhileWaiting(t *testing.T) {
	h := newHarness(t, 5, neverReady)
	done := runAsync(h.ctrl, textDoc("d", "one\n\ntwo\n\nthree"))

	h.events.waitFor(t, "waiting", func(ev Event) bool {
		return ev.Kind == EventState && ev.State == StateWaiting
	})
	if !h.ctrl.Stop() {
		t.Fatal("Stop reported no active delivery")
	}

	r := await(t, done)
	if r.err != nil {
		t.Fatalf("stop returned error: %v", r.err)
	}
	if r.res.Status != StateStopped {
		t.Errorf("status = %s", r.res.Status)
	}
	if n := len(h.sink.submissions()); n != 1 {
		t.Errorf("got %d submissions after stop, want 1", n)
	}
	p := h.ctrl.Progress()
	if p.State != StateIdle || p.SessionID != "" || p.TotalParts != 0 || p.Submitting {
		t.Errorf("session not cleared: %+v", p)
	}
	if h.ctrl.Cursor() != -1 {
		t.Errorf("cursor = %d after stop", h.ctrl.Cursor())
	}
	if h.ctrl.Stop() {
		t.Error("Stop on idle controller reported active")
	}
}

func TestRun_StopDuringCooldown(t *testing.T) {
	var blocked atomic.Bool
	blocked.Store(true)
	h := newHarness(t, 5, func(context.Context) (bool, error) { return !blocked.Load(), nil })
	h.ctrl.cfg.Timing.RecoveryCooldown = time.Minute

	done := runAsync(h.ctrl, textDoc("d", "one\n\ntwo"))
	h.events.waitFor(t, "waiting", func(ev Event) bool {
		return ev.Kind == EventState && ev.State == StateWaiting
	})
	h.ctrl.OnInterrupted(CurrentCursor)
	h.events.waitFor(t, "recovery", func(ev Event) bool { return ev.Kind == EventRecovery })
	h.ctrl.Stop()

	r := await(t, done)
	if r.err != nil || r.res.Status != StateStopped {
		t.Fatalf("result = %+v, err = %v", r.res, r.err)
	}
	h.extractor.mu.Lock()
	n := len(h.extractor.docs)
	h.extractor.mu.Unlock()
	if n != 1 {
		t.Errorf("recovery document extracted after stop")
	}
}

func TestRun_Busy(t *testing.T) {
	h := newHarness(t, 5, neverReady)
	done := runAsync(h.ctrl, textDoc("d", "x"))
	h.events.waitFor(t, "waiting", func(ev Event) bool {
		return ev.Kind == EventState && ev.State == StateWaiting
	})

	if _, err := h.ctrl.Run(context.Background(), textDoc("e", "y")); !errors.Is(err, ErrBusy) {
		t.Errorf("Run while busy: %v", err)
	}
	if err := h.ctrl.Start(context.Background(), textDoc("e", "y")); !errors.Is(err, ErrBusy) {
		t.Errorf("Start while busy: %v", err)
	}

	h.ctrl.Stop()
	await(t, done)
}

func TestRun_ExtractionFailure(t *testing.T) {
	h := newHarness(t, 100, AlwaysReady)
	doc := docpipe.Document{Name: "broken.docx", Data: []byte("not a zip"), Format: docpipe.FormatDocx}
	_, err := h.ctrl.Run(context.Background(), doc)

	var xerr *docpipe.ExtractionError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if n := len(h.sink.submissions()); n != 0 {
		t.Errorf("got %d submissions", n)
	}
	p := h.ctrl.Progress()
	if p.State != StateIdle || p.LastOutcome != StateFailed || p.LastError == "" {
		t.Errorf("progress = %+v", p)
	}
}

func TestRun_SinkFailure(t *testing.T) {
	h := newHarness(t, 100, AlwaysReady)
	h.sink.err = errors.New("page closed")
	_, err := h.ctrl.Run(context.Background(), textDoc("d", "x"))
	if !errors.Is(err, ErrSink) {
		t.Fatalf("expected ErrSink, got %v", err)
	}
}

func TestRun_EmptyDocument(t *testing.T) {
	h := newHarness(t, 100, AlwaysReady)
	res, err := h.ctrl.Run(context.Background(), textDoc("empty.txt", " \n\n "))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StateCompleted || res.Delivered != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestOnInterrupted_IgnoredWhenIdle(t *testing.T) {
	h := newHarness(t, 100, AlwaysReady)
	h.ctrl.OnInterrupted(0)
	res, err := h.ctrl.Run(context.Background(), textDoc("d", "x"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Recoveries != 0 {
		t.Errorf("stale interruption triggered recovery: %+v", res)
	}
}

func TestStart_Background(t *testing.T) {
	h := newHarness(t, 100, AlwaysReady)
	if err := h.ctrl.Start(context.Background(), textDoc("d", "x\n\ny")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		p := h.ctrl.Progress()
		if !p.Submitting && p.LastOutcome == StateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background delivery did not finish: %+v", p)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRemainderDocument(t *testing.T) {
	chunks := chunk.Plan("one\n\ntwo\n\nthree", 3)
	if len(chunks) != 3 {
		t.Fatalf("planned %d chunks", len(chunks))
	}

	doc := RemainderDocument("notes.md", chunks, 1)
	if doc.Name != "remaining_notes.md" || doc.Format != docpipe.FormatText {
		t.Errorf("remainder = %s (%s)", doc.Name, doc.Format)
	}
	if string(doc.Data) != "two\n\nthree" {
		t.Errorf("remainder text = %q", doc.Data)
	}

	if got := RemainderDocument("", chunks, 0).Name; got != "remaining_Unknown" {
		t.Errorf("unnamed remainder = %q", got)
	}
	if got := RemainderDocument("x", chunks, 9).Data; len(got) != 0 {
		t.Errorf("out-of-range remainder = %q", got)
	}
}

func TestWriterSink(t *testing.T) {
	var buf strings.Builder
	s := &WriterSink{W: &buf}
	ctx := context.Background()
	for _, text := range []string{"first", "second"} {
		if err := s.Inject(ctx, text); err != nil {
			t.Fatal(err)
		}
		if err := s.Trigger(ctx); err != nil {
			t.Fatal(err)
		}
	}
	want := "----- submission 1 -----\nfirst\n----- submission 2 -----\nsecond\n"
	if buf.String() != want {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == b || len(a) != 36 {
		t.Errorf("ids %q %q", a, b)
	}
}
