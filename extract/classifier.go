package extract

import (
	"strings"

	"graphrag/store"
)

// Closed keyword sets for label refinement. Matching is lowercase
// substring except where noted.
var (
	techKeywords = []string{
		"python", "golang", "go ", "java", "rust", "typescript", "javascript",
		"docker", "kubernetes", "terraform", "ansible",
		"aws", "gcp", "azure", "lambda",
		"postgres", "mysql", "sqlite", "redis", "kafka", "elasticsearch",
		"pytorch", "tensorflow", "scikit", "spark", "airflow",
		"react", "vue", "graphql", "grpc", "linux",
	}
	orgSuffixes = []string{
		"inc", "corp", "llc", "ltd", "gmbh", "labs", "institute",
		"systems", "university", "technologies", "foundation",
	}
	orgKeywords = []string{
		"google", "amazon", "microsoft", "meta", "apple", "netflix", "openai",
	}
	roleKeywords = []string{
		"engineer", "developer", "scientist", "manager", "director", "lead",
		"architect", "analyst", "consultant", "founder", "cto", "ceo", "vp",
		"intern", "researcher",
	}
	achievementKeywords = []string{
		"award", "patent", "publication", "certified", "certification",
		"keynote", "speaker", "winner", "medal", "scholarship",
	}
)

// Classify refines an entity label from its name. Entities that match
// nothing keep their current label.
func Classify(name, current string) string {
	lower := strings.ToLower(name)

	for _, kw := range techKeywords {
		if strings.Contains(lower, kw) {
			return store.LabelTechnology
		}
	}

	if isOrganization(name, lower) {
		return store.LabelOrganization
	}

	for _, kw := range roleKeywords {
		if strings.Contains(lower, kw) {
			return store.LabelRole
		}
	}

	for _, kw := range achievementKeywords {
		if strings.Contains(lower, kw) {
			return store.LabelAchievement
		}
	}

	if current == "" {
		return store.LabelEntity
	}
	return current
}

func isOrganization(name, lower string) bool {
	tokens := strings.Fields(name)
	if len(tokens) >= 2 {
		titled := 0
		for _, tok := range tokens {
			r := []rune(tok)[0]
			if r >= 'A' && r <= 'Z' {
				titled++
			}
		}
		if titled == len(tokens) {
			return true
		}
	}
	last := strings.Trim(strings.ToLower(tokenLast(tokens)), ".,")
	for _, suf := range orgSuffixes {
		if last == suf {
			return true
		}
	}
	for _, kw := range orgKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func tokenLast(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}
