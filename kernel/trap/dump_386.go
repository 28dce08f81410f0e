package trap

import (
	"exocore/kernel/cpu"
	"exocore/kernel/kfmt"
	"io"
)

// DumpFrame outputs the contents of a trap frame to w. The trap-time stack
// pointer and stack selector are only meaningful for frames captured on a
// privilege transition, so they are printed for user-mode frames only.
func DumpFrame(tf *cpu.Trapframe, w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x\n", tf.Regs.EAX, tf.Regs.EBX)
	kfmt.Fprintf(w, "ECX = %8x EDX = %8x\n", tf.Regs.ECX, tf.Regs.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x\n", tf.Regs.ESI, tf.Regs.EDI)
	kfmt.Fprintf(w, "EBP = %8x\n", tf.Regs.EBP)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "ES  = %8x DS  = %8x\n", tf.ES, tf.DS)
	kfmt.Fprintf(w, "TRAP= %8x ERR = %8x\n", tf.Trapno, tf.Err)
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x\n", tf.EIP, tf.CS)
	kfmt.Fprintf(w, "EFL = %8x\n", tf.EFlags)
	if tf.FromUserMode() {
		kfmt.Fprintf(w, "ESP = %8x SS  = %8x\n", tf.ESP, tf.SS)
	}
}
