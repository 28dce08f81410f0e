package monitor

import (
	"bytes"
	"exocore/device/kbd"
	"exocore/kernel/cpu"
	"exocore/kernel/kfmt"
	"strings"
	"testing"
)

func feedInput(input string) {
	pending := []byte(input)
	readCharFn = func() byte {
		if len(pending) == 0 {
			return '\n'
		}

		ch := pending[0]
		pending = pending[1:]
		return ch
	}
}

func TestMonitorCommands(t *testing.T) {
	defer func() {
		readCharFn = kbd.ReadPolled
		kfmt.SetOutputSink(nil)
	}()

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)

	feedInput("help\nbogus\nkerninfo\nregs\ncontinue\n")

	tf := cpu.Trapframe{Trapno: 3, EIP: 0x801234}
	Enter(&tf)

	for _, exp := range []string{
		"entering kernel monitor",
		"kerninfo  display kernel status",
		"unknown command 'bogus'",
		"cpus:",
		"EIP =",
	} {
		if !strings.Contains(out.String(), exp) {
			t.Errorf("expected monitor output to contain %q\ngot:\n%s", exp, out.String())
		}
	}
}

func TestReadLineEditing(t *testing.T) {
	defer func() {
		readCharFn = kbd.ReadPolled
		kfmt.SetOutputSink(nil)
	}()

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)

	// A typo corrected with backspace, with interleaved "no key pending"
	// polls.
	pending := []byte("hx\belp\n")
	var polled bool
	readCharFn = func() byte {
		if !polled {
			polled = true
			return 0
		}

		polled = false
		ch := pending[0]
		pending = pending[1:]
		return ch
	}

	var buf [promptMaxLen]byte
	n := readLine(buf[:])

	if got := string(buf[:n]); got != "help" {
		t.Errorf("expected the edited line to read %q; got %q", "help", got)
	}
}
