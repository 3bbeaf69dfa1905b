package service_test

import (
	"testing"

	"github.com/ffwdhq/ffwd/internal/service"

	"github.com/stretchr/testify/require"
)

func TestResolveArgs(t *testing.T) {
	t.Parallel()
	uploads := map[string]string{
		"video": "/data/inputs/1/video-clip.mov",
		"audio": "/data/inputs/1/audio-track.wav",
	}
	cases := []struct {
		scenario string
		given    []string
		then     []string
	}{
		{
			"resolves known placeholders",
			[]string{"-i", "{{video}}", "-i", "{{audio}}", "-c:v", "libx264"},
			[]string{"-i", "/data/inputs/1/video-clip.mov", "-i", "/data/inputs/1/audio-track.wav", "-c:v", "libx264"},
		},
		{
			"unresolved placeholder passes through literally",
			[]string{"-i", "{{subtitles}}"},
			[]string{"-i", "{{subtitles}}"},
		},
		{
			"placeholder must be the whole token",
			[]string{"prefix{{video}}", "{{video}}suffix"},
			[]string{"prefix{{video}}", "{{video}}suffix"},
		},
		{
			"empty braces stay literal",
			[]string{"{{}}"},
			[]string{"{{}}"},
		},
		{
			"no placeholders",
			[]string{"-f", "lavfi", "-i", "testsrc"},
			[]string{"-f", "lavfi", "-i", "testsrc"},
		},
		{
			"empty command",
			[]string{},
			[]string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			require.Equal(t, tc.then, service.ResolveArgs(tc.given, uploads))
		})
	}
}
