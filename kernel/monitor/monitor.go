// Package monitor implements the interactive kernel monitor. Breakpoint and
// debug traps land here, giving a developer a prompt to inspect the machine
// before the trapped environment resumes.
package monitor

import (
	"exocore/device/kbd"
	"exocore/kernel/cpu"
	"exocore/kernel/env"
	"exocore/kernel/kfmt"
	"exocore/kernel/trap"
)

var (
	// readCharFn produces console input for the prompt. Regular interrupt
	// delivery is suspended inside the kernel, so input is polled straight
	// from the keyboard controller.
	readCharFn = kbd.ReadPolled
)

const promptMaxLen = 64

// Enter drops into the monitor prompt. It returns when the operator asks to
// continue, handing the trapped frame back to the dispatcher untouched so
// the interrupted environment resumes where it stopped.
func Enter(tf *cpu.Trapframe) {
	kfmt.Printf("\nentering kernel monitor (trap %d, eip=%x); type 'help' for a command list\n", tf.Trapno, tf.EIP)

	var line [promptMaxLen]byte

	for {
		kfmt.Printf("K> ")
		n := readLine(line[:])

		switch string(line[:n]) {
		case "help":
			kfmt.Printf("help      display this list\n")
			kfmt.Printf("kerninfo  display kernel status\n")
			kfmt.Printf("regs      dump the trapped register state\n")
			kfmt.Printf("continue  resume the interrupted environment\n")
		case "kerninfo":
			printKernelInfo()
		case "regs":
			trap.DumpFrame(tf, kfmt.GetOutputSink())
		case "continue", "exit":
			return
		case "":
		default:
			kfmt.Printf("unknown command '%s'\n", line[:n])
		}
	}
}

// readLine polls the keyboard until a newline arrives, echoing input as it
// is typed. It returns the number of bytes stored in buf.
func readLine(buf []byte) int {
	var n int

	for {
		ch := readCharFn()
		switch {
		case ch == 0:
			// Interrupt delivery is off; keep polling the controller.
		case ch == '\n':
			kfmt.Printf("\n")
			return n
		case ch == '\b':
			if n > 0 {
				n--
				kfmt.Printf("\b")
			}
		case n < len(buf):
			buf[n] = ch
			n++
			kfmt.Printf("%s", buf[n-1:n])
		}
	}
}

func printKernelInfo() {
	var used, runnable int
	for slot := 0; slot < env.NumEnvs; slot++ {
		switch env.At(slot).Status {
		case env.StatusFree:
		case env.StatusRunnable:
			used++
			runnable++
		default:
			used++
		}
	}

	kfmt.Printf("cpus:               %d\n", cpu.Count)
	kfmt.Printf("environments:       %d (%d runnable)\n", used, runnable)
	if cur := env.Current(); cur != nil {
		kfmt.Printf("current environment: %x\n", uint32(cur.ID))
	}
}
