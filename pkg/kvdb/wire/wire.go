// Package wire documents the remote-protocol command taxonomy from §6 of
// the store's command table. The framed TCP/Unix-socket client that speaks
// this protocol is out of scope for this module (spec.md §1 lists it as an
// external collaborator); only the command codes themselves are kept, since
// the façade's own misc() dispatch (pkg/kvdb's Misc) is name-keyed, not
// code-keyed, and never encodes these bytes onto a wire.
//
// Every command frame starts with a 1-byte magic sentinel followed by a
// 1-byte command code and a command-specific payload.
package wire

// Magic is the 1-byte sentinel that opens every command frame, shared with
// the record-frame corruption-detection magic (pkg/kvhash's record format).
const Magic byte = 0xC8

// Command codes, in the order §6's table lists them.
const (
	CmdPut      byte = 0x10 // ksiz, vsiz, key, val -> code
	CmdPutKeep  byte = 0x11 // same payload -> code (1 on exists)
	CmdPutCat   byte = 0x12 // same payload -> code
	CmdPutShl   byte = 0x13 // ksiz, vsiz, width, key, val -> code
	CmdPutNR    byte = 0x18 // same payload as CmdPut -> no response
	CmdOut      byte = 0x20 // ksiz, key -> code
	CmdGet      byte = 0x30 // ksiz, key -> code, vsiz, val
	CmdMGet     byte = 0x31 // rnum, (ksiz,key)* -> code, rnum, (ksiz,vsiz,k,v)*
	CmdVSiz     byte = 0x38 // ksiz, key -> code, vsiz
	CmdIterInit byte = 0x50 // (none) -> code
	CmdIterNext byte = 0x51 // (none) -> code, ksiz, key
	CmdFwmKeys  byte = 0x58 // psiz, max, prefix -> code, knum, (ksiz,key)*
	CmdAddInt   byte = 0x60 // ksiz, 4-byte num, key -> code, int
	CmdAddDbl   byte = 0x61 // ksiz, packed-double, key -> code, packed-double
	CmdExt      byte = 0x68 // nsiz, opts, ksiz, vsiz, name, k, v -> code, vsiz, val
	CmdSync     byte = 0x70 // (none) -> code
	CmdOptimize byte = 0x71 // psiz, params -> code
	CmdVanish   byte = 0x72 // (none) -> code
	CmdCopy     byte = 0x73 // psiz, path -> code
	CmdRestore  byte = 0x74 // psiz, ts(8), opts, path -> code
	CmdSetMst   byte = 0x78 // hsiz, port, ts(8), opts, host -> code
	CmdRNum     byte = 0x80 // (none) -> code, int64
	CmdSize     byte = 0x81 // (none) -> code, int64
	CmdStat     byte = 0x88 // (none) -> code, ssiz, tsv
	CmdMisc     byte = 0x90 // nsiz, opts, rnum, name, (esiz,e)* -> code, rnum, (esiz,e)*
)

// CommandName returns the misc()-style lowercase name for a wire command
// code, or "" for CmdExt, CmdCopy, CmdRestore, CmdSetMst and any code that
// is not one of the taxonomy's constants. Only some of the names (put,
// putkeep, putcat, out, get, getlist, iterinit, iternext, sync, optimize,
// vanish) are commands that pkg/kvdb's Misc dispatches on.
func CommandName(code byte) string {
	switch code {
	case CmdPut, CmdPutNR:
		return "put"
	case CmdPutKeep:
		return "putkeep"
	case CmdPutCat:
		return "putcat"
	case CmdPutShl:
		return "putshl"
	case CmdOut:
		return "out"
	case CmdGet:
		return "get"
	case CmdMGet:
		return "getlist"
	case CmdVSiz:
		return "vsiz"
	case CmdIterInit:
		return "iterinit"
	case CmdIterNext:
		return "iternext"
	case CmdFwmKeys:
		return "fwmkeys"
	case CmdAddInt:
		return "addint"
	case CmdAddDbl:
		return "adddouble"
	case CmdSync:
		return "sync"
	case CmdOptimize:
		return "optimize"
	case CmdVanish:
		return "vanish"
	case CmdRNum:
		return "rnum"
	case CmdSize:
		return "size"
	case CmdStat:
		return "stat"
	case CmdMisc:
		return "misc"
	default:
		return ""
	}
}
