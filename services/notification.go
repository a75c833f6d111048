package services

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"google.golang.org/api/option"

	"subsplit-backend/store"
)

// NotificationService delivers lifecycle notifications over FCM push, falling
// back to email for members without a registered device. Delivery is
// best-effort; transitions never wait on it.
type NotificationService struct {
	store     *store.Store
	messaging *messaging.Client
	sgKey     string
	sgFrom    string
	appName   string
}

func NewNotificationService(st *store.Store, firebaseCredPath, sendGridKey, sendGridFrom, appName string) *NotificationService {
	ns := &NotificationService{
		store:   st,
		sgKey:   sendGridKey,
		sgFrom:  sendGridFrom,
		appName: appName,
	}

	if firebaseCredPath != "" {
		ctx := context.Background()
		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(firebaseCredPath))
		if err != nil {
			log.Println("⚠️  Firebase unavailable, push notifications disabled:", err)
			return ns
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			log.Println("⚠️  FCM client init failed, push notifications disabled:", err)
			return ns
		}
		ns.messaging = client
	}
	return ns
}

// Notify fans a message out to each user: push when they have a device token,
// email otherwise.
func (ns *NotificationService) Notify(userIDs []uuid.UUID, title, body string, data map[string]string) {
	users, err := ns.store.UsersByIDs(userIDs)
	if err != nil {
		log.Printf("⚠️  notification lookup failed: %v", err)
		return
	}
	for _, id := range userIDs {
		user, ok := users[id]
		if !ok {
			continue
		}
		if user.FCMToken != "" && ns.messaging != nil {
			ns.sendPush(user.FCMToken, title, body, data)
		} else {
			ns.sendEmail(user.Email, user.Name, title, body)
		}
	}
}

func (ns *NotificationService) sendPush(token, title, body string, data map[string]string) {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}
	if _, err := ns.messaging.Send(context.Background(), msg); err != nil {
		log.Printf("❌ FCM send error: %v", err)
		return
	}
	log.Printf("✅ Push notification sent: %s", title)
}

func (ns *NotificationService) sendEmail(toEmail, toName, subject, body string) {
	if ns.sgKey == "" || toEmail == "" {
		return
	}
	from := mail.NewEmail(ns.appName, ns.sgFrom)
	to := mail.NewEmail(toName, toEmail)
	html := fmt.Sprintf("<p>%s</p><p>— %s</p>", body, ns.appName)
	message := mail.NewSingleEmail(from, subject, to, body, html)

	client := sendgrid.NewSendClient(ns.sgKey)
	resp, err := client.Send(message)
	if err != nil {
		log.Printf("❌ SendGrid error: %v", err)
		return
	}
	if resp.StatusCode >= 300 {
		log.Printf("⚠️  SendGrid returned status: %d", resp.StatusCode)
		return
	}
	log.Printf("✅ Email sent to %s: %s", toEmail, subject)
}
