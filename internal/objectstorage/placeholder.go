package objectstorage

import (
	"os"
	"regexp"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

// variablePattern matches ${ENV_VAR} placeholders, mirroring the
// original VARIABLE_PATTERN = re.compile(r'\$\{([^}]+)}').
var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// SubstituteEnv expands ${ENV} placeholders in every value of cfg from
// the process environment. A placeholder referencing an unset
// variable fails initialization, matching the original's behavior of
// raising rather than substituting an empty string.
func SubstituteEnv(cfg map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		expanded, err := substituteValue(v)
		if err != nil {
			return nil, goerrors.Wrapf(err, "substituting ${ENV} placeholders in %s", k)
		}
		out[k] = expanded
	}
	return out, nil
}

func substituteValue(v string) (string, error) {
	var firstErr error
	result := variablePattern.ReplaceAllStringFunc(v, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok && firstErr == nil {
			firstErr = &goerrors.ConfigError{Msg: "environment variable " + name + " is not set"}
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}
