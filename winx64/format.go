package winx64

import (
	"fmt"
	"strings"
)

// Format renders unwind info as a listing in storage order:
//
//	version 1, flags 0x0
//	prologue size 0x0c
//	node count 4
//	frame register rbp, offset 0x0
//	  0c: SAVE_XMM128 xmm6, 0x20
//	  05: ALLOC_SMALL 0x28
//	  01: PUSH_NONVOL rbp
func Format(u *UnwindInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "version %d, flags 0x%x\n", Version, u.flags)
	fmt.Fprintf(&b, "prologue size 0x%02x\n", u.prologueSize)
	fmt.Fprintf(&b, "node count %d\n", u.NodeCount())
	if u.frame != nil {
		fmt.Fprintf(&b, "frame register %s, offset 0x%x\n", u.frame.Reg, uint32(u.frame.Offset)*16)
	} else {
		b.WriteString("frame register none\n")
	}
	for i := len(u.codes) - 1; i >= 0; i-- {
		c := u.codes[i]
		fmt.Fprintf(&b, "  %02x: %s\n", c.PrologueOffset(), c)
	}
	return b.String()
}
