package mdp

import "testing"

func TestBytesEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b []byte
		want bool
	}{
		{"equal", []byte{0x01}, []byte{0x01}, true},
		{"different length", []byte{0x01}, []byte{0x01, 0x02}, false},
		{"different content", []byte{0x01}, []byte{0x02}, false},
		{"both empty", []byte{}, []byte{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := bytesEqual(tc.a, tc.b); got != tc.want {
				t.Errorf("bytesEqual(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	cases := []struct {
		name string
		cmd  []byte
		want string
	}{
		{"ready", cmdReady, "READY"},
		{"request", cmdRequest, "REQUEST"},
		{"reply", cmdReply, "REPLY"},
		{"heartbeat", cmdHeartbeat, "HEARTBEAT"},
		{"disconnect", cmdDisconnect, "DISCONNECT"},
		{"unknown", []byte{0xff}, "UNKNOWN"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := commandName(tc.cmd); got != tc.want {
				t.Errorf("commandName(%v) = %q, want %q", tc.cmd, got, tc.want)
			}
		})
	}
}

func TestHeartbeatExpiryDerivation(t *testing.T) {
	want := HeartbeatLiveness * HeartbeatInterval
	if HeartbeatExpiry != want {
		t.Errorf("HeartbeatExpiry = %v, want %v (liveness * interval)", HeartbeatExpiry, want)
	}
}
