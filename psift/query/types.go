package query

// File-type categories for the type: filter and its macro shorthands. Each
// category maps to a lowercase extension set without leading dots.

var typeCategories = map[string][]string{
	"pictures": {"jpg", "jpeg", "png", "gif", "bmp", "webp", "tif", "tiff", "heic", "heif", "svg", "ico", "raw", "cr2", "nef", "psd"},
	"video":    {"mp4", "mkv", "avi", "mov", "wmv", "flv", "webm", "m4v", "mpg", "mpeg", "3gp", "ts", "vob"},
	"audio":    {"mp3", "wav", "flac", "aac", "ogg", "m4a", "wma", "aiff", "opus", "mid", "midi"},
	"docs":     {"txt", "doc", "docx", "rtf", "odt", "md", "tex", "pages", "wpd"},
	"presentations": {"ppt", "pptx", "odp", "key"},
	"spreadsheets":  {"xls", "xlsx", "ods", "csv", "tsv", "numbers"},
	"pdf":      {"pdf"},
	"archives": {"zip", "tar", "gz", "bz2", "xz", "zst", "7z", "rar", "tgz", "tbz2", "iso", "dmg"},
	"code":     {"go", "rs", "c", "h", "cpp", "hpp", "cc", "py", "js", "ts", "jsx", "tsx", "java", "kt", "swift", "rb", "php", "sh", "pl", "lua", "sql", "html", "css", "json", "yaml", "yml", "toml", "xml"},
	"exe":      {"exe", "msi", "bat", "cmd", "com", "app", "appimage", "bin", "run", "deb", "rpm", "apk"},
}

var typeSynonyms = map[string]string{
	"picture":      "pictures",
	"pic":          "pictures",
	"pics":         "pictures",
	"image":        "pictures",
	"images":       "pictures",
	"img":          "pictures",
	"photo":        "pictures",
	"photos":       "pictures",
	"movie":        "video",
	"movies":       "video",
	"film":         "video",
	"films":        "video",
	"videos":       "video",
	"music":        "audio",
	"song":         "audio",
	"songs":        "audio",
	"sound":        "audio",
	"doc":          "docs",
	"document":     "docs",
	"documents":    "docs",
	"text":         "docs",
	"presentation": "presentations",
	"slides":       "presentations",
	"spreadsheet":  "spreadsheets",
	"sheets":       "spreadsheets",
	"archive":      "archives",
	"zip":          "archives",
	"compressed":   "archives",
	"program":      "exe",
	"programs":     "exe",
	"executable":   "exe",
	"executables":  "exe",
	"application":  "exe",
	"applications": "exe",
	"app":          "exe",
	"apps":         "exe",
	"source":       "code",
	"sources":      "code",
}

// TypeCategoryExts resolves a type: argument (or one of its documented
// synonyms) to its extension set.
func TypeCategoryExts(category string) ([]string, bool) {
	if canonical, ok := typeSynonyms[category]; ok {
		category = canonical
	}
	exts, ok := typeCategories[category]
	return exts, ok
}
