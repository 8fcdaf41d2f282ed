package seed

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/jaswdr/faker"
)

type User struct {
	ID        int64
	Name      string
	Email     string
	Country   string
	CreatedAt time.Time
}

type Order struct {
	ID        int64
	UserID    int64
	Product   string
	Status    string
	Amount    float64
	OrderedAt time.Time
}

// Generator produces a reproducible users/orders dataset for a seed.
type Generator struct {
	rnd         *rand.Rand
	fake        faker.Faker
	nextUserID  int64
	nextOrderID int64
	now         func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd:  rand.New(rand.NewSource(seed)),
		fake: faker.NewWithSeed(rand.NewSource(seed)),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) NextUser() User {
	g.nextUserID++
	name := g.fake.Person().Name()
	return User{
		ID:        g.nextUserID,
		Name:      name,
		Email:     emailFor(name, g.nextUserID),
		Country:   pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
		CreatedAt: g.now().Add(-time.Duration(g.rnd.Intn(365*24)) * time.Hour).Truncate(time.Second),
	}
}

// OrdersFor returns between one and maxOrders orders placed after the user signed up.
func (g *Generator) OrdersFor(user User, maxOrders int) []Order {
	count := 1 + g.rnd.Intn(maxOrders)
	span := g.now().Sub(user.CreatedAt)
	orders := make([]Order, 0, count)
	for i := 0; i < count; i++ {
		g.nextOrderID++
		status := g.pickStatus()
		orderedAt := user.CreatedAt
		if span > 0 {
			orderedAt = user.CreatedAt.Add(time.Duration(g.rnd.Int63n(int64(span)))).Truncate(time.Second)
		}
		orders = append(orders, Order{
			ID:        g.nextOrderID,
			UserID:    user.ID,
			Product:   pickOne(g.rnd, []string{"keyboard", "monitor", "headset", "laptop stand", "webcam", "desk lamp"}),
			Status:    status,
			Amount:    round2(5 + g.rnd.Float64()*495),
			OrderedAt: orderedAt,
		})
	}
	return orders
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 70:
		return "completed"
	case p < 85:
		return "shipped"
	case p < 95:
		return "pending"
	default:
		return "cancelled"
	}
}

// emailFor derives a unique address from the generated name.
func emailFor(name string, id int64) string {
	local := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ':
			return '.'
		default:
			return -1
		}
	}, name)
	if local == "" {
		local = "user"
	}
	return local + "." + strconv.FormatInt(id, 10) + "@example.com"
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
