package cliprompt

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/ports"
)

func TestChooseDuplicateParsesAnswers(t *testing.T) {
	t.Parallel()
	cases := map[string]ports.DuplicateChoice{
		"s\n":      ports.ChoiceSkip,
		"skip\n":   ports.ChoiceSkip,
		"k\n":      ports.ChoiceKeepBoth,
		"r\n":      ports.ChoiceReplace,
		"m\n":      ports.ChoiceMergeUseSnapshot,
		"huh?\n":   ports.ChoiceSkip,
	}

	for input, want := range cases {
		var out bytes.Buffer
		p := New(strings.NewReader(input), &out)
		got, err := p.ChooseDuplicate(context.Background(), ports.DuplicateChoiceRequest{Title: "T"})
		if err != nil {
			t.Fatalf("ChooseDuplicate(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ChooseDuplicate(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestConfirmStaleLocationDefaultsToNo(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	p := New(strings.NewReader("\n"), &out)
	confirmed, err := p.ConfirmStaleLocation(context.Background(), kohl.Candidate{Path: "/x"})
	if err != nil {
		t.Fatalf("ConfirmStaleLocation: %v", err)
	}
	if confirmed {
		t.Fatalf("expected default-no")
	}
}

func TestConfirmStaleLocationAcceptsYes(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	p := New(strings.NewReader("y\n"), &out)
	confirmed, err := p.ConfirmStaleLocation(context.Background(), kohl.Candidate{Path: "/x"})
	if err != nil {
		t.Fatalf("ConfirmStaleLocation: %v", err)
	}
	if !confirmed {
		t.Fatalf("expected yes to confirm")
	}
}

func TestChooseDuplicateRespectsCancellation(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	pr, _ := io.Pipe() // never written to: ReadString blocks forever
	p := New(pr, &out)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ChooseDuplicate(ctx, ports.DuplicateChoiceRequest{Title: "T"})
	if err != ports.Cancelled {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}
