package convcontext

// Fixed vocabulary for deterministic entity extraction.

var technologyVocab = []string{
	"react", "vue", "angular", "node", "nodejs", "python", "django", "flask",
	"fastapi", "go", "golang", "java", "spring", "postgres", "postgresql",
	"mysql", "mongodb", "redis", "docker", "kubernetes", "graphql", "rest",
	"grpc", "typescript", "javascript",
}

var featureVocab = []string{
	"authentication", "auth", "login", "payment", "payments", "search",
	"notifications", "chat", "upload", "dashboard", "analytics", "caching",
	"logging", "admin", "api",
}

var projectTypeVocab = []string{
	"web app", "web application", "website", "mobile app", "api", "service",
	"microservice", "cli", "desktop app", "backend", "frontend",
}
