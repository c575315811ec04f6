package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholder — ${name} в тексте SQL.
var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// bindable — ${name}, возможно в одинарных кавычках: '${name}'.
var bindable = regexp.MustCompile(`'\$\{([^}]+)\}'|\$\{([^}]+)\}`)

// Bind заменяет ${name} на параметры $1, $2, ... и возвращает их значения.
//
// Кавычки вокруг плейсхолдера ('${name}') убираются: значение всегда
// передаётся параметром и в текст запроса не попадает. Одно имя
// получает один номер параметра. Отсутствующая переменная даёт NULL.
func Bind(text string, vars map[string]any) (string, []any) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var args []any
	index := make(map[string]int)
	query := bindable.ReplaceAllStringFunc(text, func(m string) string {
		sub := bindable.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		name = strings.TrimSpace(name)

		n, ok := index[name]
		if !ok {
			args = append(args, bindValue(vars[name]))
			n = len(args)
			index[name] = n
		}
		return "$" + strconv.Itoa(n)
	})
	return query, args
}

// bindValue приводит значение к типу, который принимает драйвер.
// Составные значения (объекты, массивы) передаются строкой.
func bindValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, []byte:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Placeholders возвращает имена переменных, упомянутых в тексте.
func Placeholders(text string) []string {
	matches := placeholder.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
