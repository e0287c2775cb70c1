package cli

import (
	"bufio"
	"io"
	"strings"
)

// readEvents はServer-Sent Eventsを読み、イベントごとにfnを呼ぶ。
// fnがエラーを返すか、ストリームが終わるまで戻らない。
func readEvents(r io.Reader, fn func(name, data string) error) error {
	scanner := bufio.NewScanner(r)
	var (
		name string
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if name == "" {
					name = "message"
				}
				if err := fn(name, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// コメント
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return scanner.Err()
}
