package protocol

import "github.com/gosuda/appexplorer/internal/domain"

// QueryName is a request name understood by board clients.
type QueryName string

const (
	QueryGetBoardInfo QueryName = "getBoardInfo"
	QueryCards        QueryName = "cards"
)

// QueryNames lists every query the authority may issue.
var QueryNames = []QueryName{QueryGetBoardInfo, QueryCards} //nolint:gochecknoglobals // closed set

// Valid reports whether n belongs to the closed query set.
func (n QueryName) Valid() bool {
	switch n {
	case QueryGetBoardInfo, QueryCards:
		return true
	default:
		return false
	}
}

// NoParams is the parameter type of queries that take no arguments.
type NoParams struct{}

// Query binds a request name to its parameter and result types.
type Query[P, R any] struct {
	Name QueryName
}

// GetBoardInfo asks a board for its id and name.
var GetBoardInfo = Query[NoParams, domain.BoardInfo]{Name: QueryGetBoardInfo} //nolint:gochecknoglobals // descriptor

// Cards asks a board for every card it currently holds.
var Cards = Query[NoParams, []domain.Card]{Name: QueryCards} //nolint:gochecknoglobals // descriptor
