package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandBothForms(t *testing.T) {
	env := Env{"PYTHON": `C:\Miniconda`, "PATH": "/usr/bin"}

	assert.Equal(t, `C:\Miniconda;C:\Miniconda\Scripts;/usr/bin`,
		env.Expand(`%PYTHON%;${PYTHON}\Scripts;%PATH%`))
}

func TestExpandLeavesUnresolvedIntact(t *testing.T) {
	env := Env{"KNOWN": "yes"}

	assert.Equal(t, "yes %MISSING% ${ALSO_MISSING}",
		env.Expand("${KNOWN} %MISSING% ${ALSO_MISSING}"))
}

func TestExpandIsCaseSensitive(t *testing.T) {
	env := Env{"Path": "mixed"}

	assert.Equal(t, "%PATH% mixed", env.Expand("%PATH% %Path%"))
}

func TestUnresolved(t *testing.T) {
	env := Env{"A": "1"}

	assert.Equal(t, []string{"B", "C"}, env.Unresolved("${A} %B% ${C} %B%"))
	assert.Empty(t, env.Unresolved("${A}"))
}

func TestMergePriority(t *testing.T) {
	base := Env{"A": "base", "B": "base"}
	merged := base.Merge(Env{"B": "mid", "C": "mid"}, Env{"C": "top"})

	assert.Equal(t, Env{"A": "base", "B": "mid", "C": "top"}, merged)
	assert.Equal(t, "base", base["B"], "merge must not mutate the receiver")
}

func TestEnvironRoundTrip(t *testing.T) {
	env := ParseEnviron([]string{"B=2", "A=1", "BAD", "=nokey", "C=with=equals"})

	assert.Equal(t, Env{"A": "1", "B": "2", "C": "with=equals"}, env)
	assert.Equal(t, []string{"A=1", "B=2", "C=with=equals"}, env.Environ())
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "1.0.42", FormatVersion("1.0.{build}", 42, "main", ""))
	assert.Equal(t, "2.1.7-feature", FormatVersion("2.1.{build}-{branch}", 7, "feature", ""))
	assert.Equal(t, "plain", FormatVersion("plain", 1, "main", ""))
}
