package phone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"whatsapp:+5215512345678", "5215512345678"},
		{"+52 1 55 1234 5678", "5215512345678"},
		{"  sms:+1 (415) 523-8886 ", "14155238886"},
		{"5215512345678", "5215512345678"},
		{"whatsapp:+52-55-1234", "52551234"},
		{"Web User", "webuser"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"whatsapp:+5215512345678",
		"+52 (55) 1234-5678",
		"sms:555",
		"Anonymous Sender",
		"a:b:c",
		"  ",
		"whatsapp:",
	}
	for _, in := range inputs {
		once := Normalize(in)
		require.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalize_TransportVariantsCollapse(t *testing.T) {
	require.Equal(t, Normalize("whatsapp:+5215512345678"), Normalize("+5215512345678"))
	require.Equal(t, Normalize("sms:+5215512345678"), Normalize("whatsapp:+5215512345678"))
}
