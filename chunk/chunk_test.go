package chunk

import (
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
)

func TestPlan_SingleChunk(t *testing.T) {
	chunks := Plan("A\n\nB\n\nC", 1000)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Text != "A\n\nB\n\nC" || c.Index != 1 || !c.Last {
		t.Errorf("chunk = %+v", c)
	}
}

func TestPlan_OneParagraphPerChunk(t *testing.T) {
	p := []string{
		strings.Repeat("a", 50),
		strings.Repeat("b", 50),
		strings.Repeat("c", 50),
	}
	chunks := Plan(strings.Join(p, "\n\n"), 60)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Text != p[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, c.Text, p[i])
		}
		if c.Index != i+1 {
			t.Errorf("chunk[%d].Index = %d", i, c.Index)
		}
		if c.Last != (i == 2) {
			t.Errorf("chunk[%d].Last = %v", i, c.Last)
		}
	}
}

func TestPlan_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\n", " \t\n "} {
		if chunks := Plan(in, 10); chunks != nil {
			t.Errorf("Plan(%q) = %v, want nil", in, chunks)
		}
	}
}

func TestPlan_OversizedParagraph(t *testing.T) {
	big := strings.Repeat("x", 100)
	chunks := Plan("small\n\n"+big+"\n\ntail", 20)
	want := []string{"small", big, "tail"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i := range want {
		if chunks[i].Text != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i].Text, want[i])
		}
	}
}

func TestPlan_OversizedFirstParagraph(t *testing.T) {
	chunks := Plan(strings.Repeat("y", 30)+"\n\nz", 10)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Text == "" {
		t.Error("empty first chunk")
	}
}

func TestPlan_PacksUpToBudget(t *testing.T) {
	// "aaaa\n\nbbbb" is exactly 10 bytes.
	chunks := Plan("aaaa\n\nbbbb\n\ncccc", 10)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Text != "aaaa\n\nbbbb" || chunks[1].Text != "cccc" {
		t.Errorf("chunks = %q, %q", chunks[0].Text, chunks[1].Text)
	}
}

func TestPlan_WideSeparatorsCountAsOne(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"aaaa\n\n\n\nbbbb", []string{"aaaa\n\nbbbb"}},
		{"aaaa\n \t\nbbbb", []string{"aaaa\n\nbbbb"}},
		{"aaaa  \n\n\n  bbbb\n\n\ncccc", []string{"aaaa\n\nbbbb", "cccc"}},
	}
	for _, tt := range tests {
		chunks := Plan(tt.in, 10)
		var got []string
		for _, c := range chunks {
			got = append(got, c.Text)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Plan(%q, 10) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlan_ToleratesWhitespaceBetweenParagraphs(t *testing.T) {
	got := Paragraphs("  one\n  \t\n\ntwo\n \nthree  ")
	want := []string{"one", "two", "three"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Paragraphs = %q, want %q", got, want)
	}
}

func TestPlan_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	words := []string{"lorem", "ipsum", "dolor", "sit", "amet", "x", "longerword"}
	seps := []string{"\n\n", "\n\n\n", "\n \n", "\n\t\n\n", " \n\n  "}

	for round := 0; round < 200; round++ {
		n := rng.IntN(12)
		paras := make([]string, n)
		for i := range paras {
			var w []string
			for k := 0; k <= rng.IntN(15); k++ {
				w = append(w, words[rng.IntN(len(words))])
			}
			paras[i] = strings.Join(w, " ")
		}
		var sb strings.Builder
		for i, p := range paras {
			if i > 0 {
				sb.WriteString(seps[rng.IntN(len(seps))])
			}
			sb.WriteString(p)
		}
		text := sb.String()
		budget := 1 + rng.IntN(80)

		chunks := Plan(text, budget)

		want := strings.Join(paras, Separator)
		if got := Join(chunks); got != want {
			t.Fatalf("round %d: coverage broken\n got %q\nwant %q", round, got, want)
		}
		for i := 1; i < len(chunks); i++ {
			// Greedy: the next chunk's first paragraph did not fit.
			first := Paragraphs(chunks[i].Text)[0]
			if chunks[i-1].Len()+len(Separator)+len(first) <= budget {
				t.Fatalf("round %d: chunk %d closed early", round, i)
			}
		}
		for i, c := range chunks {
			if c.Index != i+1 {
				t.Fatalf("round %d: chunk %d has index %d", round, i, c.Index)
			}
			if c.Last != (i == len(chunks)-1) {
				t.Fatalf("round %d: chunk %d Last=%v", round, i, c.Last)
			}
			if c.Len() > budget && len(Paragraphs(c.Text)) != 1 {
				t.Fatalf("round %d: chunk %d is %d bytes over budget %d with several paragraphs", round, i, c.Len(), budget)
			}
		}
	}
}

func TestPlan_Deterministic(t *testing.T) {
	text := "one two\n\nthree\n\nfour five six\n\nseven"
	a := Plan(text, 12)
	b := Plan(text, 12)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("plans differ: %v vs %v", a, b)
	}
}
