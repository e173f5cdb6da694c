//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"net/url"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	fstorage "fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"

	"menuwizard/internal/backend"
	"menuwizard/internal/blob"
	"menuwizard/internal/crash"
	"menuwizard/internal/domain"
	"menuwizard/internal/export"
	applog "menuwizard/internal/log"
	"menuwizard/internal/version"
	"menuwizard/internal/wizard"
)

type appNavigator struct{ a fyne.App }

func (n appNavigator) Open(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	return n.a.OpenURL(u)
}

type windowClipboard struct{ w fyne.Window }

func (c windowClipboard) WriteText(s string) error {
	c.w.Clipboard().SetContent(s)
	return nil
}

// Run starts the Fyne desktop wizard for the session stored in sessionDir.
func Run(sessionDir string, deps Deps) error {
	l := applog.WithComponent("ui")
	l.Info("starting UI", slog.String("version", version.String()))

	fyneApp := app.NewWithID("menuwizard")
	w := fyneApp.NewWindow("Menu Wizard")
	prefs := fyneApp.Preferences()
	winW := prefs.IntWithFallback("window.width", 1100)
	winH := prefs.IntWithFallback("window.height", 760)
	if winW < 800 {
		winW = 800
	}
	if winH < 600 {
		winH = 600
	}
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	if deps.Navigator == nil {
		deps.Navigator = appNavigator{a: fyneApp}
	}
	if deps.Clipboard == nil {
		deps.Clipboard = windowClipboard{w: w}
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewStore()
	}
	srv := blob.NewServer(deps.Blobs)
	base, err := srv.Start("127.0.0.1:0")
	if err != nil {
		l.Warn("resource server not started", slog.Any("err", err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	sess, err := OpenSession(sessionDir, deps)
	if err != nil {
		return err
	}
	defer crash.RecoverWith(sess.CurrentHandle)

	stepLabel := widget.NewLabelWithStyle("", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	errLabel := widget.NewLabel("")
	errLabel.Wrapping = fyne.TextWrapWord
	errLabel.Importance = widget.DangerImportance
	errLabel.Hide()
	toastLabel := widget.NewLabel("")
	toastLabel.Hide()
	loading := widget.NewProgressBarInfinite()
	loading.Hide()
	loadingLabel := widget.NewLabel("")
	loadingLabel.Hide()
	body := container.NewStack()

	var (
		lastStep    wizard.Step
		renderStep  func()
		panelBusy   = map[string]*widget.Button{}
		bindToasts  func(p *export.Panel)
		saveSession = func() {
			if err := sess.Save(); err != nil {
				l.Warn("autosave failed", slog.Any("err", err))
			}
		}
	)

	showErr := func(err error) {
		if err == nil {
			return
		}
		var be *backend.Error
		if errors.As(err, &be) {
			dialog.ShowError(errors.New(be.Message), w)
			return
		}
		dialog.ShowError(err, w)
	}

	// chrome reflects the wizard state that changes without rebuilding the step body.
	chrome := func() {
		v := sess.Wizard.View()
		stepLabel.SetText(fmt.Sprintf("Krok %d z 4", v.Step.Number()))
		if v.Loading {
			loadingLabel.SetText(v.LoadingMessage)
			loadingLabel.Show()
			loading.Show()
		} else {
			loadingLabel.Hide()
			loading.Hide()
		}
		if v.Error != "" {
			errLabel.SetText(v.Error)
			errLabel.Show()
		} else {
			errLabel.Hide()
		}
		if v.Step != lastStep {
			renderStep()
		}
	}
	sess.Wizard.OnChange(func() { fyne.Do(chrome) })

	// Step 1: type selection.
	typeStep := func() fyne.CanvasObject {
		title := widget.NewLabelWithStyle("Co tworzysz?", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
		sub := widget.NewLabelWithStyle("Wybierz typ menu, które chcesz wygenerować", fyne.TextAlignCenter, fyne.TextStyle{})
		cards := make([]fyne.CanvasObject, 0, len(domain.MenuTypes))
		for _, mt := range domain.MenuTypes {
			mt := mt
			btn := widget.NewButton(mt.Label, func() {
				if err := sess.Wizard.SelectType(mt.ID); err != nil {
					showErr(err)
					return
				}
				saveSession()
			})
			cards = append(cards, widget.NewCard("", mt.Description, btn))
		}
		return container.NewVBox(title, sub, container.NewGridWithColumns(len(cards), cards...))
	}

	// Step 2: text or photo input.
	contentStep := func() fyne.CanvasObject {
		v := sess.Wizard.View()
		name := widget.NewEntry()
		name.SetPlaceHolder("Nazwa firmy")
		name.SetText(v.BusinessName)
		name.OnChanged = sess.Wizard.SetBusinessName
		text := widget.NewMultiLineEntry()
		text.SetPlaceHolder("Wklej tutaj swoje menu: kategorie, pozycje, ceny...")
		text.SetText(v.RawText)
		text.SetMinRowsVisible(12)
		text.OnChanged = sess.Wizard.SetRawText

		submit := widget.NewButton("Generuj menu", func() {
			go func() {
				err := sess.Wizard.SubmitText(context.Background())
				fyne.Do(func() {
					if err == nil {
						saveSession()
					}
				})
			}()
		})
		submit.Importance = widget.HighImportance
		photo := widget.NewButton("Wgraj zdjęcie menu", func() {
			dlg := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
				if err != nil {
					showErr(err)
					return
				}
				if rc == nil {
					return
				}
				defer func() { _ = rc.Close() }()
				data, err := io.ReadAll(io.LimitReader(rc, backend.MaxUploadSize+1))
				if err != nil {
					showErr(err)
					return
				}
				p := backend.Photo{Filename: rc.URI().Name(), ContentType: rc.URI().MimeType(), Data: data}
				go func() {
					err := sess.Wizard.SubmitPhoto(context.Background(), p)
					fyne.Do(func() {
						if err == nil {
							saveSession()
						}
					})
				}()
			}, w)
			dlg.SetFilter(fstorage.NewExtensionFileFilter([]string{".jpg", ".jpeg", ".png", ".webp", ".heic"}))
			dlg.Show()
		})
		back := widget.NewButton("Wstecz", func() { sess.Wizard.Back(); saveSession() })
		return container.NewBorder(
			container.NewVBox(name),
			container.NewHBox(back, photo, submit),
			nil, nil,
			text,
		)
	}

	// Step 3: list editor. Field edits go straight to the document; structural
	// changes rebuild the form.
	var editStep func() fyne.CanvasObject
	rebuild := func() {
		body.Objects = []fyne.CanvasObject{editStep()}
		body.Refresh()
		chrome()
	}
	act := func(fn func() error, structural bool) {
		if err := fn(); err != nil {
			showErr(err)
			return
		}
		if structural {
			rebuild()
		}
	}
	editStep = func() fyne.CanvasObject {
		m, _ := sess.Wizard.Menu()
		ed := sess.Editor
		bname := widget.NewEntry()
		bname.SetText(m.BusinessName)
		bname.OnChanged = func(s string) { act(func() error { return ed.SetBusinessName(s) }, false) }
		tagline := widget.NewEntry()
		tagline.SetPlaceHolder("Hasło reklamowe (opcjonalne)")
		tagline.SetText(m.TaglineText())
		tagline.OnChanged = func(s string) { act(func() error { return ed.SetTagline(s) }, false) }

		rows := container.NewVBox()
		for ci, cat := range m.Categories {
			ci := ci
			cname := widget.NewEntry()
			cname.SetPlaceHolder("Nazwa kategorii")
			cname.SetText(cat.Name)
			cname.OnChanged = func(s string) { act(func() error { return ed.RenameCategory(ci, s) }, false) }
			head := container.NewBorder(nil, nil, nil,
				container.NewHBox(
					widget.NewButton("↑", func() { act(func() error { return ed.MoveCategory(ci, -1) }, true) }),
					widget.NewButton("↓", func() { act(func() error { return ed.MoveCategory(ci, 1) }, true) }),
					widget.NewButton("Usuń", func() { act(func() error { return ed.RemoveCategory(ci) }, true) }),
				),
				cname)
			items := container.NewVBox()
			for ii, it := range cat.Items {
				ii := ii
				n := widget.NewEntry()
				n.SetPlaceHolder("Nazwa")
				n.SetText(it.Name)
				n.OnChanged = func(s string) { act(func() error { return ed.SetItemField(ci, ii, domain.FieldName, s) }, false) }
				d := widget.NewEntry()
				d.SetPlaceHolder("Opis")
				d.SetText(it.DescriptionText())
				d.OnChanged = func(s string) {
					act(func() error { return ed.SetItemField(ci, ii, domain.FieldDescription, s) }, false)
				}
				p := widget.NewEntry()
				p.SetPlaceHolder("Cena")
				p.SetText(it.Price)
				p.OnChanged = func(s string) { act(func() error { return ed.SetItemField(ci, ii, domain.FieldPrice, s) }, false) }
				items.Add(container.NewBorder(nil, nil, nil,
					container.NewHBox(
						widget.NewButton("↑", func() { act(func() error { return ed.MoveItem(ci, ii, -1) }, true) }),
						widget.NewButton("↓", func() { act(func() error { return ed.MoveItem(ci, ii, 1) }, true) }),
						widget.NewButton("✕", func() { act(func() error { return ed.RemoveItem(ci, ii) }, true) }),
					),
					container.NewGridWithColumns(3, n, d, p)))
			}
			addItem := widget.NewButton("+ Dodaj pozycję", func() { act(func() error { return ed.AddItem(ci) }, true) })
			rows.Add(widget.NewCard("", "", container.NewVBox(head, items, addItem)))
		}
		addCat := widget.NewButton("+ Dodaj kategorię", func() { act(ed.AddCategory, true) })

		v := sess.Wizard.View()
		undoBtn := widget.NewButton("Cofnij", func() {
			act(func() error { _, err := sess.Wizard.Undo(); return err }, true)
		})
		redoBtn := widget.NewButton("Ponów", func() {
			act(func() error { _, err := sess.Wizard.Redo(); return err }, true)
		})
		if !v.CanUndo {
			undoBtn.Disable()
		}
		if !v.CanRedo {
			redoBtn.Disable()
		}
		back := widget.NewButton("Wstecz", func() { sess.Wizard.Back(); saveSession() })
		next := widget.NewButton("Dalej: wybierz styl", func() {
			if err := sess.Wizard.Confirm(); err != nil {
				showErr(err)
				return
			}
			saveSession()
		})
		next.Importance = widget.HighImportance
		form := container.NewVBox(
			widget.NewForm(widget.NewFormItem("Nazwa firmy", bname), widget.NewFormItem("Hasło", tagline)),
			rows, addCat,
		)
		return container.NewBorder(nil, container.NewHBox(back, undoBtn, redoBtn, next), nil, nil, container.NewVScroll(form))
	}

	// Step 4: template, preview and export actions.
	bindToasts = func(p *export.Panel) {
		p.Toasts().OnChange(func(items []export.Toast) {
			fyne.Do(func() {
				if len(items) == 0 {
					toastLabel.Hide()
					return
				}
				last := items[len(items)-1]
				toastLabel.SetText(last.Message)
				if last.Kind == export.ToastError {
					toastLabel.Importance = widget.DangerImportance
				} else {
					toastLabel.Importance = widget.SuccessImportance
				}
				toastLabel.Show()
				toastLabel.Refresh()
			})
		})
	}
	styleStep := func() fyne.CanvasObject {
		p, err := sess.Panel()
		if err != nil {
			return widget.NewLabel(err.Error())
		}
		bindToasts(p)
		previewState := widget.NewLabel("Ładowanie podglądu...")
		previewState.Wrapping = fyne.TextWrapWord
		previewLink := widget.NewHyperlink("Otwórz podgląd w przeglądarce", nil)
		if base != "" {
			if u, err := url.Parse(base + "/preview"); err == nil {
				previewLink.SetURL(u)
			}
		} else {
			previewLink.Hide()
		}
		refresh := func() {
			previewState.SetText("Ładowanie podglądu...")
			go func() {
				_, _ = p.RefreshPreview(context.Background())
				fyne.Do(func() { previewState.SetText(previewStatus(p.State())) })
			}()
		}

		names := make([]string, len(domain.Templates))
		byLabel := map[string]domain.Template{}
		current := ""
		for i, t := range domain.Templates {
			names[i] = t.Label
			byLabel[t.Label] = t.ID
			if t.ID == p.State().Template {
				current = t.Label
			}
		}
		sel := widget.NewSelect(names, func(label string) {
			if err := p.SetTemplate(byLabel[label]); err != nil {
				showErr(err)
				return
			}
			saveSession()
			refresh()
		})
		sel.SetSelected(current)

		// runAction disables the button while the action is in flight; the
		// panel itself reports the result as a toast.
		runAction := func(key string, fn func(ctx context.Context) error) func() {
			return func() {
				b := panelBusy[key]
				if b != nil {
					b.Disable()
				}
				go func() {
					err := fn(context.Background())
					fyne.Do(func() {
						if b != nil {
							b.Enable()
						}
						if err != nil {
							l.Debug("panel action failed", slog.String("action", key), slog.Any("err", err))
						}
						saveSession()
					})
				}()
			}
		}
		download := widget.NewButton("Pobierz za darmo (ze znakiem wodnym)", nil)
		download.OnTapped = runAction("download", func(ctx context.Context) error {
			_, err := p.Download(ctx)
			return err
		})
		premium := widget.NewButton("Pobierz bez znaku wodnego", nil)
		premium.Importance = widget.HighImportance
		premium.OnTapped = runAction("premium", func(ctx context.Context) error {
			res, err := p.PremiumDownload(ctx)
			if err == nil && res.CheckoutURL != "" {
				fyne.Do(func() {
					dialog.ShowConfirm("Płatność", "Po zakończeniu płatności sprawdzić status?", func(ok bool) {
						if !ok {
							return
						}
						go func() {
							res, err := sess.PollPayment(context.Background(), nil)
							fyne.Do(func() {
								switch {
								case err != nil:
									showErr(err)
								case res.Paid:
									saveSession()
									dialog.ShowInformation("Płatność", "Płatność potwierdzona. Możesz pobrać menu.", w)
								default:
									dialog.ShowInformation("Płatność", "Płatność jest przetwarzana. Odśwież za chwilę.", w)
								}
							})
						}()
					}, w)
				})
			}
			return err
		})
		qr := widget.NewButton("Kod QR", nil)
		qr.OnTapped = runAction("qr", func(ctx context.Context) error {
			q, err := p.ShowQR(ctx)
			if err != nil {
				return err
			}
			it, err := deps.Blobs.Get(q.Handle.ID)
			if err != nil {
				return err
			}
			fyne.Do(func() {
				img := canvas.NewImageFromResource(fyne.NewStaticResource(export.QRFileName, it.Data))
				img.FillMode = canvas.ImageFillContain
				img.SetMinSize(fyne.NewSize(240, 240))
				link := widget.NewLabel(q.URL)
				link.Wrapping = fyne.TextWrapBreak
				content := container.NewVBox(img, link, container.NewHBox(
					widget.NewButton("Zapisz PNG", func() {
						if path, err := p.SaveQR(); err != nil {
							showErr(err)
						} else {
							dialog.ShowInformation("Kod QR", "Zapisano: "+path, w)
						}
					}),
					widget.NewButton("Kopiuj link", func() { _ = p.CopyPublishedLink() }),
				))
				d := dialog.NewCustom("Kod QR menu", "Zamknij", content, w)
				d.SetOnClosed(p.CloseQR)
				d.Show()
			})
			return nil
		})
		share := widget.NewButton("Kopiuj link", nil)
		share.OnTapped = runAction("link", func(ctx context.Context) error {
			_, err := p.CopyLink(ctx)
			return err
		})
		panelBusy["download"], panelBusy["premium"], panelBusy["qr"], panelBusy["link"] = download, premium, qr, share

		back := widget.NewButton("Edytuj dane", func() {
			sess.ClosePanel()
			if err := sess.Wizard.EditData(); err != nil {
				showErr(err)
				return
			}
			saveSession()
		})
		refresh()
		swatch := canvas.NewRectangle(color.NRGBA{R: 16, G: 185, B: 129, A: 255})
		swatch.SetMinSize(fyne.NewSize(4, 4))
		return container.NewVBox(
			widget.NewForm(widget.NewFormItem("Szablon", sel)),
			swatch,
			previewState, previewLink,
			container.NewGridWithColumns(2, download, premium),
			container.NewGridWithColumns(2, qr, share),
			back,
		)
	}

	renderStep = func() {
		v := sess.Wizard.View()
		if lastStep == wizard.StepStyle && v.Step != wizard.StepStyle {
			sess.ClosePanel()
		}
		lastStep = v.Step
		var content fyne.CanvasObject
		switch v.Step {
		case wizard.StepType:
			content = typeStep()
		case wizard.StepContent:
			content = contentStep()
		case wizard.StepEdit:
			content = editStep()
		default:
			content = styleStep()
		}
		body.Objects = []fyne.CanvasObject{content}
		body.Refresh()
	}

	reset := widget.NewButton("Zacznij od nowa", func() {
		dialog.ShowConfirm("Nowe menu", "Porzucić bieżące menu?", func(ok bool) {
			if !ok {
				return
			}
			sess.ClosePanel()
			sess.Wizard.Reset()
			saveSession()
		}, w)
	})
	header := container.NewBorder(nil, nil, nil, reset, stepLabel)
	status := container.NewVBox(loadingLabel, loading, errLabel, toastLabel)
	w.SetContent(container.NewBorder(header, status, nil, nil, container.NewPadded(body)))

	chrome()

	w.SetOnClosed(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		if err := sess.Close(); err != nil {
			l.Error("saving session on close failed", slog.Any("err", err))
		}
	})
	w.ShowAndRun()
	return nil
}
