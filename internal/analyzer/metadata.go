package analyzer

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/CosmoTheDev/painscan/models"
)

var languageByExt = map[string]string{
	".go": "Go", ".py": "Python", ".js": "JavaScript", ".jsx": "JavaScript",
	".mjs": "JavaScript", ".cjs": "JavaScript", ".ts": "TypeScript", ".tsx": "TypeScript",
	".java": "Java", ".kt": "Kotlin", ".rb": "Ruby", ".rs": "Rust", ".php": "PHP",
	".cs": "C#", ".swift": "Swift", ".c": "C", ".h": "C", ".cc": "C++", ".cpp": "C++",
	".hpp": "C++", ".scala": "Scala", ".sh": "Shell", ".bash": "Shell", ".lua": "Lua",
	".dart": "Dart", ".ex": "Elixir", ".exs": "Elixir", ".vue": "Vue", ".svelte": "Svelte",
}

func languageFor(name string) string {
	return languageByExt[strings.ToLower(filepath.Ext(name))]
}

// manifestFrameworks maps a manifest file name to markers and the framework
// each marker implies. JSON manifests are matched on dependency keys.
var manifestFrameworks = map[string][][2]string{
	"go.mod": {
		{"github.com/gin-gonic/gin", "Gin"},
		{"github.com/labstack/echo", "Echo"},
		{"github.com/gofiber/fiber", "Fiber"},
		{"github.com/go-chi/chi", "Chi"},
		{"github.com/spf13/cobra", "Cobra"},
		{"google.golang.org/grpc", "gRPC"},
		{"gorm.io/gorm", "GORM"},
	},
	"package.json": {
		{"next", "Next.js"},
		{"react", "React"},
		{"vue", "Vue"},
		{"@angular/core", "Angular"},
		{"svelte", "Svelte"},
		{"express", "Express"},
		{"@nestjs/core", "NestJS"},
		{"fastify", "Fastify"},
	},
	"composer.json": {
		{"laravel/framework", "Laravel"},
		{"symfony/symfony", "Symfony"},
		{"symfony/framework-bundle", "Symfony"},
	},
	"requirements.txt": {
		{"django", "Django"},
		{"flask", "Flask"},
		{"fastapi", "FastAPI"},
	},
	"pyproject.toml": {
		{"django", "Django"},
		{"flask", "Flask"},
		{"fastapi", "FastAPI"},
	},
	"pom.xml": {
		{"spring-boot", "Spring Boot"},
		{"quarkus", "Quarkus"},
	},
	"build.gradle": {
		{"org.springframework.boot", "Spring Boot"},
	},
	"Gemfile": {
		{"rails", "Rails"},
		{"sinatra", "Sinatra"},
	},
	"Cargo.toml": {
		{"actix-web", "Actix"},
		{"axum", "Axum"},
		{"rocket", "Rocket"},
		{"tokio", "Tokio"},
	},
}

// computeMetadata walks root and describes its stack.
func computeMetadata(ctx context.Context, root string) (models.RepoMetadata, error) {
	linesByLang := make(map[string]int)
	frameworks := make(map[string]bool)
	var meta models.RepoMetadata

	err := walkSources(ctx, root, func(f sourceFile) error {
		if markers, ok := manifestFrameworks[path.Base(f.Rel)]; ok {
			for _, fw := range detectFrameworks(f.Abs, path.Base(f.Rel), markers) {
				frameworks[fw] = true
			}
		}
		if f.Language == "" {
			return nil
		}
		lines, err := readLines(f.Abs)
		if err != nil {
			return err
		}
		if lines == nil {
			return nil
		}
		meta.TotalFiles++
		meta.TotalLines += len(lines)
		linesByLang[f.Language] += len(lines)
		return nil
	})
	if err != nil {
		return models.RepoMetadata{}, err
	}

	meta.Languages = rankKeys(linesByLang)
	meta.Frameworks = make([]string, 0, len(frameworks))
	for fw := range frameworks {
		meta.Frameworks = append(meta.Frameworks, fw)
	}
	sort.Strings(meta.Frameworks)
	return meta, nil
}

func detectFrameworks(absPath, name string, markers [][2]string) []string {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil
	}
	body := string(data)
	var found []string
	switch name {
	case "package.json", "composer.json":
		deps := make(map[string]bool)
		for _, section := range []string{"dependencies", "devDependencies", "require", "require-dev"} {
			gjson.Get(body, section).ForEach(func(key, _ gjson.Result) bool {
				deps[key.String()] = true
				return true
			})
		}
		for _, m := range markers {
			if deps[m[0]] {
				found = append(found, m[1])
			}
		}
	default:
		lower := strings.ToLower(body)
		for _, m := range markers {
			if strings.Contains(lower, strings.ToLower(m[0])) {
				found = append(found, m[1])
			}
		}
	}
	return found
}

// rankKeys orders keys by descending weight, then name.
func rankKeys[N int | float64](weights map[string]N) []string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if weights[keys[i]] != weights[keys[j]] {
			return weights[keys[i]] > weights[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// mergeLanguages puts host-reported languages first (by share) and keeps any
// locally detected language the host did not report.
func mergeLanguages(host map[string]float64, local []string) []string {
	out := rankKeys(host)
	seen := make(map[string]bool, len(out))
	for _, l := range out {
		seen[strings.ToLower(l)] = true
	}
	for _, l := range local {
		if !seen[strings.ToLower(l)] {
			out = append(out, l)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
