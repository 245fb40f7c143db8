package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTemplate(t *testing.T) {
	tpl := ParseTemplate(`{{ .Name | shorten }} {{ .Value | json }}`)
	buf := &bytes.Buffer{}
	require.NoError(t, tpl.Execute(buf, map[string]interface{}{
		"Name":  "syncctl-0123456789",
		"Value": map[string]interface{}{"theme": "dark"},
	}))
	require.Equal(t, `syncctl- {"theme":"dark"}`, buf.String())
	require.Panics(t, func() { ParseTemplate(`{{ .Name | unknown }}`) })
}
