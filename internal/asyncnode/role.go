package asyncnode

import "fmt"

// Role selects the compose profiles started on a machine.
type Role string

const (
	RoleRabbitMQ Role = "rabbitmq"
	RoleRedis    Role = "redis"
	RoleAPI      Role = "api"
	RoleWorker   Role = "worker"
	RoleRedisUI  Role = "redisui"
)

func ParseRole(s string) (Role, error) {
	r := Role(s)
	switch r {
	case RoleRabbitMQ, RoleRedis, RoleAPI, RoleWorker, RoleRedisUI:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %s", UnknownRole, s)
	}
}

// Dependent roles need the rabbitmq and redis addresses before their
// bootstrap script can be rendered.
func (r Role) Dependent() bool {
	switch r {
	case RoleAPI, RoleWorker, RoleRedisUI:
		return true
	default:
		return false
	}
}

// Ports which the role's services listen on. Workers serve nothing, so they
// are checked over ssh.
func (r Role) Ports() []int {
	switch r {
	case RoleRabbitMQ:
		return []int{PortAMQP, PortRabbitMQManagement}
	case RoleRedis:
		return []int{PortRedis}
	case RoleAPI:
		return []int{PortAPI}
	case RoleRedisUI:
		return []int{PortRedisUI}
	default:
		return []int{PortSSH}
	}
}

// Machine is one of the fixed virtual machines in the stack.
type Machine struct {
	// Name of the instance resource, also used as its Name tag.
	Name string

	Role Role

	// OutputKey under which the machine's public address is exported.
	OutputKey string
}

const (
	OutputAPI      = "API Public IP"
	OutputRabbitMQ = "RabbitMQ Public IP"
	OutputRedis    = "Redis Public IP"
	OutputWorker1  = "Worker1 IP"
	OutputWorker2  = "Worker2 IP"
	OutputRedisUI  = "RedisUI Public IP"
)

// Machines in declaration order. The first two are independent and must be
// declared before anything that depends on their addresses.
var Machines = []Machine{
	{Name: "rabbitmq-ec2", Role: RoleRabbitMQ, OutputKey: OutputRabbitMQ},
	{Name: "redis-ec2", Role: RoleRedis, OutputKey: OutputRedis},
	{Name: "api-ec2", Role: RoleAPI, OutputKey: OutputAPI},
	{Name: "worker1-ec2", Role: RoleWorker, OutputKey: OutputWorker1},
	{Name: "worker2-ec2", Role: RoleWorker, OutputKey: OutputWorker2},
	{Name: "redisui-ec2", Role: RoleRedisUI, OutputKey: OutputRedisUI},
}
