package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/engine"
)

// reconcileSchema приводит целевую таблицу к списку полей OUTPUT узла
// и возвращает колонку, по которой можно делать ON CONFLICT.
//
// Нет таблицы: создаётся со всеми полями. Суррогатный id BIGSERIAL
// добавляется, только если ключ не задан ни одним полем.
// Таблица есть: добавляются недостающие колонки, существующие не
// меняются. Если ключ задан, а у таблицы нет PRIMARY KEY, делается
// попытка его добавить; ошибка только логируется.
//
// Пустой ключ означает обычный INSERT: у таблицы нет уникального
// индекса по ключу, либо ключ не входит в записываемые поля.
func reconcileSchema(ctx context.Context, tgt Target, out *engine.OutputSpec, logger *slog.Logger) (string, error) {
	info, err := tgt.Inspect(ctx, out.Table)
	if err != nil {
		return "", fmt.Errorf("inspect target table: %w", err)
	}

	if !info.Exists {
		spec := domain.TableSpec{
			Name:       out.Table,
			Fields:     out.Fields,
			PrimaryKey: out.PrimaryKey,
			Surrogate:  out.NeedsSurrogateKey(),
		}
		if err := tgt.CreateTable(ctx, spec); err != nil {
			return "", fmt.Errorf("create target table: %w", err)
		}

		key := ""
		if !spec.Surrogate {
			key = declaredKey(out)
		}
		logger.Info("target table created",
			"table", out.Table,
			"primary_key", key,
			"surrogate", spec.Surrogate,
		)
		return key, nil
	}

	for _, f := range out.Fields {
		if info.HasColumn(f.Name) {
			continue
		}
		if err := tgt.AddColumn(ctx, out.Table, f); err != nil {
			return "", fmt.Errorf("add column: %w", err)
		}
		logger.Info("column added", "table", out.Table, "column", f.Name)
	}

	key := out.KeyColumn()
	if key == "" {
		return "", nil
	}
	name, ok := fieldName(out, key)
	if !ok {
		logger.Warn("primary key is not a target field, using plain insert",
			"table", out.Table,
			"column", key,
		)
		return "", nil
	}
	if info.HasPrimaryKey {
		return name, nil
	}

	if err := tgt.AddPrimaryKey(ctx, out.Table, name); err != nil {
		logger.Warn("could not add primary key, using plain insert",
			"table", out.Table,
			"column", name,
			"error", err,
		)
		return "", nil
	}
	logger.Info("primary key added", "table", out.Table, "column", name)
	return name, nil
}

// declaredKey возвращает колонку, которую CREATE TABLE объявит
// первичным ключом: первое поле с IsPK или совпадающее с PrimaryKey.
func declaredKey(out *engine.OutputSpec) string {
	for _, f := range out.Fields {
		if f.IsPK || (out.PrimaryKey != "" && strings.EqualFold(f.Name, out.PrimaryKey)) {
			return f.Name
		}
	}
	return ""
}

// fieldName ищет поле без учёта регистра и возвращает его имя.
func fieldName(out *engine.OutputSpec, name string) (string, bool) {
	for _, f := range out.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Name, true
		}
	}
	return "", false
}
