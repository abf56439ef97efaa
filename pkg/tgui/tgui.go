package tgui

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	kit "nftwatch/internal/transport"
)

// Markup converts transport keyboard rows into an inline ReplyMarkup.
// Buttons carry raw callback_data; build it with Data. Empty rows are skipped
// and nil is returned when nothing remains.
func Markup(rows [][]kit.Button) (*tele.ReplyMarkup, error) {
	rm := &tele.ReplyMarkup{}
	for _, row := range rows {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			if err := CheckData(b.Data); err != nil {
				return nil, fmt.Errorf("button %q: %w", b.Text, err)
			}
			btns = append(btns, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		if len(btns) > 0 {
			rm.InlineKeyboard = append(rm.InlineKeyboard, btns)
		}
	}
	if len(rm.InlineKeyboard) == 0 {
		return nil, nil
	}
	return rm, nil
}

// CheckData reports whether data fits Telegram's callback_data limit.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
