package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// statements: построитель запросов с плейсхолдерами $n.
var statements = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// execBuilt собирает запрос и выполняет его в пределах opTimeout.
func execBuilt(ctx context.Context, db execer, stmt sq.Sqlizer) (sql.Result, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return db.ExecContext(ctx, query, args...)
}

// batchDelete описывает удаление порции строк: до limit строк table, подходящих под where,
// в порядке orderBy. limit <= 0 снимает ограничение.
type batchDelete struct {
	table   string
	key     string
	where   sq.Sqlizer
	orderBy string
	limit   int
}

func (b batchDelete) run(ctx context.Context, db execer) (int, error) {
	victims := statements.Select(b.key).From(b.table).Where(b.where).OrderBy(b.orderBy)
	if b.limit > 0 {
		victims = victims.Limit(uint64(b.limit))
	}

	res, err := execBuilt(ctx, db, statements.Delete(b.table).Where(sq.Expr(b.key+" IN (?)", victims)))
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", b.table, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", b.table, err)
	}
	return int(deleted), nil
}

// expectOneRow возвращает notFound, если запрос не затронул ни одной строки.
func expectOneRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
