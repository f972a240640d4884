package wire

import "testing"

func Test_CommandName_Returns_Misc_Style_Name_For_Known_Codes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code byte
		want string
	}{
		{CmdPut, "put"},
		{CmdPutNR, "put"},
		{CmdPutKeep, "putkeep"},
		{CmdGet, "get"},
		{CmdAddInt, "addint"},
		{CmdAddDbl, "adddouble"},
		{CmdStat, "stat"},
	}

	for _, tt := range tests {
		got := CommandName(tt.code)
		if got != tt.want {
			t.Errorf("CommandName(0x%02X) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func Test_CommandName_Returns_Empty_For_Unknown_Code(t *testing.T) {
	t.Parallel()

	if got := CommandName(0xFF); got != "" {
		t.Errorf("CommandName(0xFF) = %q, want empty", got)
	}
}
