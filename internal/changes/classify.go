package changes

import (
	"path"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/ugs/internal/perforce"
)

var codeExtensions = sets.New[string](
	".c", ".cc", ".cpp", ".cs", ".h", ".hpp", ".inl", ".ispc",
	".usf", ".ush", ".uproject", ".uplugin", ".sln",
)

// ChangeDetails is the metadata of a submitted change
type ChangeDetails struct {
	Number          int
	Author          string
	Description     string
	ContainsCode    bool
	ContainsContent bool
}

// Classify reports whether files include source code and whether they include content
func Classify(files []perforce.DescribeFile) (containsCode, containsContent bool) {
	for _, file := range files {
		if codeExtensions.Has(strings.ToLower(path.Ext(file.DepotPath))) {
			containsCode = true
		} else {
			containsContent = true
		}
	}
	return containsCode, containsContent
}

// DetailsFromDescribe builds ChangeDetails from a change description
func DetailsFromDescribe(record *perforce.DescribeRecord) ChangeDetails {
	code, content := Classify(record.Files)
	return ChangeDetails{
		Number:          record.Number,
		Author:          record.User,
		Description:     record.Description,
		ContainsCode:    code,
		ContainsContent: content,
	}
}
