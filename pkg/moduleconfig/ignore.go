package moduleconfig

import (
	"github.com/gobwas/glob"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

func compileIgnorePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "invalid ignore pattern", err).WithEntity(p)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func matchAny(globs []glob.Glob, rel string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
