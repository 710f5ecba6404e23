package db

import "github.com/Masterminds/squirrel"

// NewQueryBuilder returns a squirrel builder emitting Postgres placeholders.
func NewQueryBuilder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}
