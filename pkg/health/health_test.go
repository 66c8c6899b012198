package health

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("redis", PingCheck(func(context.Context) error { return nil }))
	c.Register("scores", PathCheck(filepath.Join(t.TempDir(), "missing.tsv"), false))
	c.Register("kafka", Skipped("disabled"))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUp, report.Components["redis"].Status)
	assert.Equal(t, StatusSkipped, report.Components["kafka"].Status)

	c.Register("postgres", PingCheck(func(context.Context) error { return errors.New("refused") }))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "refused", report.Components["postgres"].Message)
}

func TestPathCheck(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusUp, PathCheck(dir, true)(context.Background()).Status)
	assert.Equal(t, StatusDown, PathCheck(filepath.Join(dir, "nope"), true)(context.Background()).Status)
	assert.Equal(t, StatusSkipped, PathCheck("", true)(context.Background()).Status)
}

func TestReportWriteTo(t *testing.T) {
	r := Report{
		Status: StatusUp,
		Components: map[string]ComponentHealth{
			"b": {Status: StatusUp, Latency: "1ms"},
			"a": {Status: StatusSkipped, Message: "disabled"},
		},
	}
	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("\na ")), bytes.Index(buf.Bytes(), []byte("\nb ")))
	assert.Contains(t, out, "overall")
}
