package marketplace

// Page is one slice of a paginated listing request.
type Page struct {
	Number int // 1-based
	Offset int
	Size   int
}

// SplitPages divides limit results into pages of at most pageSize. The last
// page is shortened so the pages cover exactly limit results.
func SplitPages(limit, pageSize int) []Page {
	if limit <= 0 || pageSize <= 0 {
		return nil
	}

	var pages []Page
	for offset := 0; offset < limit; offset += pageSize {
		size := pageSize
		if offset+size > limit {
			size = limit - offset
		}
		pages = append(pages, Page{Number: len(pages) + 1, Offset: offset, Size: size})
	}
	return pages
}
