package internal

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"evhub/internal/config"
	"evhub/models"
)

const (
	collectionLog      = "sys_log"
	collectionSessions = "charging_sessions"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client, nil
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, err
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	err := connection.Disconnect(m.ctx)
	if err != nil {
		log.Println("mongodb disconnect error;", err)
	}
}

func (m *MongoDB) WriteLogMessage(data Data) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionLog)
	_, err = collection.InsertOne(m.ctx, data)
	return err
}

func (m *MongoDB) SaveSession(session *models.Session) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionSessions)
	_, err = collection.InsertOne(m.ctx, session)
	return err
}

// GetSessionsByPeriod returns the sessions started inside the requested
// period. The period format follows the view type: "2006" for a year
// view, "2006-01" for a month view.
func (m *MongoDB) GetSessionsByPeriod(chargerId, period, viewType string) ([]models.Session, error) {
	from, to, err := periodBounds(period, viewType)
	if err != nil {
		return nil, err
	}
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.M{"start_time": bson.M{"$gte": from, "$lt": to}}
	if chargerId != "" {
		filter["charger_id"] = chargerId
	}
	collection := connection.Database(m.database).Collection(collectionSessions)
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	cursor, err := collection.Find(m.ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var sessions []models.Session
	if err = cursor.All(m.ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (m *MongoDB) GetSessionsByCharger(chargerId string) ([]models.Session, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionSessions)
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	cursor, err := collection.Find(m.ctx, bson.M{"charger_id": chargerId}, opts)
	if err != nil {
		return nil, err
	}
	var sessions []models.Session
	if err = cursor.All(m.ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (m *MongoDB) GetChargerIds() ([]string, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionSessions)
	values, err := collection.Distinct(m.ctx, "charger_id", bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(values))
	for _, value := range values {
		if id, ok := value.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func periodBounds(period, viewType string) (time.Time, time.Time, error) {
	switch viewType {
	case "year":
		from, err := time.Parse("2006", period)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid year period %s: %w", period, err)
		}
		return from, from.AddDate(1, 0, 0), nil
	case "month", "":
		from, err := time.Parse("2006-01", period)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid month period %s: %w", period, err)
		}
		return from, from.AddDate(0, 1, 0), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unsupported view type: %s", viewType)
}
