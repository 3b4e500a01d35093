package services

import (
	"context"
	"fmt"

	"carereminder/dispatcher"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultTokenCollection = "usersLogin"

// FirestoreTokens reads device tokens from the FMCToken field of
// usersLogin/{userID}, the document the mobile app writes on sign-in.
type FirestoreTokens struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreTokens(client *firestore.Client, collection string) *FirestoreTokens {
	if collection == "" {
		collection = DefaultTokenCollection
	}
	return &FirestoreTokens{client: client, collection: collection}
}

func (t *FirestoreTokens) Token(ctx context.Context, userID string) (string, error) {
	doc, err := t.client.Collection(t.collection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("user login data not found for %s: %w", userID, dispatcher.ErrNoToken)
		}
		return "", fmt.Errorf("failed to get document: %w", err)
	}
	return tokenFrom(doc.Data(), userID)
}

func tokenFrom(data map[string]interface{}, userID string) (string, error) {
	raw, exists := data["FMCToken"]
	if !exists {
		return "", fmt.Errorf("FCM token not found for %s: %w", userID, dispatcher.ErrNoToken)
	}
	token, ok := raw.(string)
	if !ok || token == "" {
		return "", fmt.Errorf("invalid or empty FCM token for %s: %w", userID, dispatcher.ErrNoToken)
	}
	return token, nil
}

// InitializeFirebaseApp builds the Firebase app from a service account file.
// projectID may be empty when the file carries it.
func InitializeFirebaseApp(ctx context.Context, serviceAccountKeyPath, projectID string) (*firebase.App, error) {
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	opt := option.WithCredentialsFile(serviceAccountKeyPath)
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing app: %w", err)
	}
	return app, nil
}
